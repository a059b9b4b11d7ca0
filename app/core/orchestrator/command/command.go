package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"superagent/app/core/orchestrator/router"
	"superagent/app/core/orchestrator/task"
	"superagent/app/core/orchestrator/worker"
	"superagent/app/core/scheduler"
	"superagent/app/pkg/types"
)

const defaultHistoryLimit = 10

// Executor turns incoming channel messages into skill dispatches and
// scheduler operations. It satisfies types.Agent so any channel can host it.
type Executor struct {
	name         string
	router       *router.Router
	sched        *scheduler.Scheduler
	store        *task.Store
	historyLimit int
}

func NewExecutor(name string, r *router.Router, sched *scheduler.Scheduler, store *task.Store, historyLimit int) *Executor {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Executor{
		name:         name,
		router:       r,
		sched:        sched,
		store:        store,
		historyLimit: historyLimit,
	}
}

func (e *Executor) Name() string {
	return e.name
}

func (e *Executor) Process(ctx context.Context, msg types.Message) (types.Message, error) {
	content := strings.TrimSpace(msg.Content)
	var reply string
	if strings.HasPrefix(content, "/") {
		out, err := e.executeSlash(ctx, content)
		if err != nil {
			reply = renderError(err)
		} else {
			reply = out
		}
	} else {
		reply = e.hintText()
	}

	return types.Message{
		ID:        uuid.NewString(),
		Content:   reply,
		Role:      types.MessageRoleAssistant,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		RequestID: msg.RequestID,
	}, nil
}

func (e *Executor) executeSlash(ctx context.Context, content string) (string, error) {
	parts := strings.Fields(strings.TrimPrefix(content, "/"))
	if len(parts) == 0 {
		return e.hintText(), nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	switch cmd {
	case "start":
		return e.startText(), nil
	case "help":
		return e.helpText(), nil
	case "skills":
		return e.skillsText(), nil
	case "code", "image", "research", "assistant", "chat":
		if cmd == "chat" {
			cmd = string(worker.SkillAssistant)
		}
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return "", fmt.Errorf("usage: /%s <query>", cmd)
		}
		return e.router.Dispatch(ctx, worker.Skill(cmd), query)
	case "schedule":
		return e.executeSchedule(ctx, args)
	case "tasks":
		return e.sched.List(), nil
	case "cancel":
		return e.executeCancel(ctx, args)
	case "history":
		return e.executeHistory(ctx, args)
	default:
		return "", fmt.Errorf("unknown command: /%s", cmd)
	}
}

func (e *Executor) executeSchedule(ctx context.Context, args []string) (string, error) {
	if len(args) < 3 {
		return "", fmt.Errorf("usage: /schedule <delay|RFC3339 time> <skill> <query>")
	}

	fireAt, err := parseFireAt(args[0])
	if err != nil {
		return "", err
	}
	skill := worker.Skill(strings.ToLower(args[1]))
	query := strings.TrimSpace(strings.Join(args[2:], " "))
	if query == "" {
		return "", fmt.Errorf("usage: /schedule <delay|RFC3339 time> <skill> <query>")
	}

	record, err := e.sched.Schedule(ctx, skill, query, fireAt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduled %s (%s) to run at %s.",
		record.JobID(), record.Skill, record.FireAt.UTC().Format("2006-01-02 15:04:05 UTC")), nil
}

func (e *Executor) executeCancel(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /cancel <task_id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "task_"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid task id: %s", args[0])
	}
	if err := e.sched.Cancel(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancelled %s.", task.JobID(id)), nil
}

func (e *Executor) executeHistory(ctx context.Context, args []string) (string, error) {
	limit := e.historyLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "", fmt.Errorf("usage: /history [count]")
		}
		limit = n
	}

	records, err := e.store.ListRecent(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No task history yet.", nil
	}

	var b strings.Builder
	b.WriteString("Task history:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n- %s [%s] %s\n  Query: %s\n", r.JobID(), r.Status, r.Skill, truncate(r.Query, 120))
		if r.Result != "" {
			fmt.Fprintf(&b, "  Result: %s\n", truncate(r.Result, 200))
		}
		if !r.CompletedAt.IsZero() {
			fmt.Fprintf(&b, "  Completed: %s\n", r.CompletedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func parseFireAt(arg string) (time.Time, error) {
	if d, err := time.ParseDuration(arg); err == nil {
		if d < 0 {
			d = 0
		}
		return time.Now().Add(d), nil
	}
	if at, err := time.Parse(time.RFC3339, arg); err == nil {
		return at, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use a delay like 10m or an RFC3339 timestamp", arg)
}

func renderError(err error) string {
	switch {
	case errors.Is(err, worker.ErrUnknownSkill):
		return fmt.Sprintf("%v. Use /skills to see what is available.", err)
	case errors.Is(err, scheduler.ErrNotScheduled):
		return fmt.Sprintf("%v.", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func (e *Executor) startText() string {
	return fmt.Sprintf("Hi, I am %s. I can write code, generate images, research topics, and run tasks on a schedule.\n\n%s", e.name, e.helpText())
}

func (e *Executor) hintText() string {
	return "I respond to commands. Try /help to see what I can do."
}

func (e *Executor) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("  /code <query>        write or explain code\n")
	b.WriteString("  /image <query>       generate an image\n")
	b.WriteString("  /research <query>    research a topic\n")
	b.WriteString("  /assistant <query>   general conversation\n")
	b.WriteString("  /schedule <delay|RFC3339 time> <skill> <query>\n")
	b.WriteString("  /tasks               list scheduled tasks\n")
	b.WriteString("  /cancel <task_id>    cancel a scheduled task\n")
	b.WriteString("  /history [count]     recent task outcomes\n")
	b.WriteString("  /skills              list available skills\n")
	b.WriteString("  /help\n")
	return strings.TrimSpace(b.String())
}

func (e *Executor) skillsText() string {
	var b strings.Builder
	b.WriteString("Available skills:\n")
	for _, s := range []worker.Skill{worker.SkillCode, worker.SkillImage, worker.SkillResearch, worker.SkillAssistant} {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
