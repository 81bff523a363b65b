package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nichescout/nichescout/internal/config"
	"github.com/nichescout/nichescout/internal/research"
	"github.com/nichescout/nichescout/internal/store"
)

const helpText = `Send me a niche and I will research it.

/research <niche> - start a research run
/status - runs in progress
/runs - recent runs
/report <run id> - send a finished report`

// Coordinator is the part of the research coordinator the bot drives.
type Coordinator interface {
	Start(ctx context.Context, niche, origin string) (*store.Run, error)
	Active() []research.ActiveRun
	Get(runID string) (*store.Run, error)
	OnComplete(fn func(store.Run))
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	coord   Coordinator
	store   *store.Store
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	// send delivers a reply; replaced in tests.
	send func(ctx context.Context, chatID int64, text string) error
}

func NewBot(cfg config.TelegramConfig, coord Coordinator, s *store.Store) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := newBot(cfg, coord, s)
	b.bot = bot
	b.send = b.SendMessage
	return b, nil
}

func newBot(cfg config.TelegramConfig, coord Coordinator, s *store.Store) *Bot {
	b := &Bot{coord: coord, store: s, cfg: cfg}
	coord.OnComplete(b.runFinished)
	return b
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()
	slog.Info("telegram bot started")

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}
	if b.bot != nil {
		_ = b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(msg.Chat.ID), telego.ChatActionTyping))
	}
	b.handleText(ctx, msg.Chat.ID, msg.From.ID, text)
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.cfg.AllowFrom) == 0 || slices.Contains(b.cfg.AllowFrom, userID)
}

func (b *Bot) handleText(ctx context.Context, chatID, userID int64, text string) {
	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	cmd, arg := splitCommand(text)
	var reply string
	switch cmd {
	case "/start", "/help":
		reply = helpText
	case "/status":
		reply = b.statusText()
	case "/runs":
		reply = b.runsText()
	case "/report":
		reply = b.reportText(arg)
	case "/research", "":
		reply = b.startResearch(ctx, chatID, arg)
	default:
		reply = "Unknown command.\n\n" + helpText
	}
	b.reply(ctx, chatID, reply)
}

// splitCommand returns the command ("" for plain text) and its argument.
// A "@botname" suffix on the command is dropped.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, arg, _ := strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (b *Bot) startResearch(ctx context.Context, chatID int64, niche string) string {
	if niche == "" {
		return "Usage: /research <niche>"
	}
	run, err := b.coord.Start(ctx, niche, research.OriginTelegram(chatID))
	if err != nil {
		slog.Error("start research failed", "chat", chatID, "error", err)
		return "Sorry, I could not start that research."
	}
	return fmt.Sprintf("Researching %q. I will send the report when it is ready.\nRun: %s", run.Niche, run.ID)
}

func (b *Bot) statusText() string {
	active := b.coord.Active()
	if len(active) == 0 {
		return "No research in progress."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d run(s) in progress:\n", len(active))
	for _, r := range active {
		fmt.Fprintf(&sb, "\n- %s: step %d", r.Niche, r.Step)
		if r.Next != "" {
			fmt.Fprintf(&sb, ", next %s", r.Next)
		}
		fmt.Fprintf(&sb, " (%s)", time.Since(r.StartedAt).Round(time.Second))
	}
	return sb.String()
}

func (b *Bot) runsText() string {
	runs, err := b.store.ListRuns(10)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		return "Sorry, I could not list runs."
	}
	if len(runs) == 0 {
		return "No runs yet."
	}
	var sb strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&sb, "%s  %s  %s\n", r.ID[:min(8, len(r.ID))], r.Status, r.Niche)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) reportText(prefix string) string {
	if prefix == "" {
		return "Usage: /report <run id>"
	}
	run, problem := b.findRun(prefix)
	if run == nil {
		return problem
	}
	if run.FinalReport == "" {
		return fmt.Sprintf("Run %s is %s and has no report.", run.ID, run.Status)
	}
	return run.FinalReport
}

// findRun resolves a full run id or a unique prefix of a recent one. When
// nothing resolves it returns a reply explaining why.
func (b *Bot) findRun(prefix string) (*store.Run, string) {
	if run, err := b.coord.Get(prefix); err == nil && run != nil {
		return run, ""
	}
	runs, err := b.store.ListRuns(100)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		return nil, "Sorry, I could not look up runs."
	}
	var match *store.Run
	for i := range runs {
		if strings.HasPrefix(runs[i].ID, prefix) {
			if match != nil {
				return nil, fmt.Sprintf("%q matches more than one run.", prefix)
			}
			match = &runs[i]
		}
	}
	if match == nil {
		return nil, fmt.Sprintf("No run matches %q.", prefix)
	}
	return match, ""
}

// runFinished delivers the outcome of runs started from a chat.
func (b *Bot) runFinished(run store.Run) {
	chatID, ok := chatFromOrigin(run.Origin)
	if !ok {
		return
	}
	ctx := context.Background()
	if run.Status != store.RunCompleted {
		b.reply(ctx, chatID, fmt.Sprintf("Research on %q failed: %s", run.Niche, run.Error))
		return
	}
	b.reply(ctx, chatID, run.FinalReport)
}

func chatFromOrigin(origin string) (int64, bool) {
	rest, ok := strings.CutPrefix(origin, "telegram:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if b.send == nil {
		return
	}
	if err := b.send(ctx, chatID, text); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}
