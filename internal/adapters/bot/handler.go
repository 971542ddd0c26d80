package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"post-planner-bot/internal/adapters/telegram"
	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
	"post-planner-bot/internal/usecase/compose"
	"post-planner-bot/internal/usecase/respond"
	"post-planner-bot/internal/usecase/workflow"
)

// reviewPinTTL bounds how long a /review_post pin keeps routing free
// text from the chat to the response router.
const reviewPinTTL = 24 * time.Hour

// pinKey is the Redis key holding the pinned post ID for a chat.
func pinKey(chatID int64) string {
	return "review:" + strconv.FormatInt(chatID, 10)
}

// Handler serves the bot webhook: it parses commands, applies
// workflow transitions and renders every outcome as plain chat text.
type Handler struct {
	bot          *tgbotapi.BotAPI
	log          zerolog.Logger
	workflowUC   *workflow.Service
	composeUC    *compose.Service
	router       *respond.Router
	posts        domain.PostRepo
	interactions domain.InteractionRepo
	pins         domain.Cache

	viewCap         int
	replyBudget     int
	dateFormat      string
	defaultPriority domain.Priority
	refZone         *time.Location
}

// Config tunes response rendering and defaults.
type Config struct {
	ViewCap         int
	ReplyBudget     int
	DateFormat      string
	DefaultPriority domain.Priority
	RefZone         *time.Location
}

// NewHandler creates the handler.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, workflowUC *workflow.Service, composeUC *compose.Service, router *respond.Router, posts domain.PostRepo, interactions domain.InteractionRepo, pins domain.Cache, cfg Config) *Handler {
	if cfg.ViewCap <= 0 {
		cfg.ViewCap = 5
	}
	if cfg.ReplyBudget <= 0 {
		cfg.ReplyBudget = telegram.DefaultBudget
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "2006-01-02 15:04"
	}
	if cfg.DefaultPriority == domain.PriorityNone {
		cfg.DefaultPriority = domain.PriorityP2
	}
	if cfg.RefZone == nil {
		cfg.RefZone = time.UTC
	}
	return &Handler{
		bot:             bot,
		log:             log,
		workflowUC:      workflowUC,
		composeUC:       composeUC,
		router:          router,
		posts:           posts,
		interactions:    interactions,
		pins:            pins,
		viewCap:         cfg.ViewCap,
		replyBudget:     cfg.ReplyBudget,
		dateFormat:      cfg.DateFormat,
		defaultPriority: cfg.DefaultPriority,
		refZone:         cfg.RefZone,
	}
}

// HandleUpdate processes one incoming update.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	h.handleMessage(ctx, upd.Message)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if !strings.HasPrefix(text, "/") {
		h.handleReviewReply(ctx, msg, text)
		return
	}

	fields := strings.Fields(text)
	command := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Strip the bot mention from group-style commands.
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	args := fields[1:]

	actor := "unknown"
	if msg.From != nil {
		actor = strconv.FormatInt(msg.From.ID, 10)
	}

	var (
		result string
		err    error
	)
	switch command {
	case "generate_post":
		result, err = h.handleGeneratePost(ctx, actor, args)
	case "view_scheduled":
		result, err = h.handleViewScheduled(ctx, args)
	case "view_pending":
		result, err = h.handleViewPending(ctx)
	case "review_post":
		result, err = h.handleReviewPost(ctx, msg.Chat.ID, args)
	case "schedule_post":
		result, err = h.handleSchedulePost(ctx, args)
	case "select_image":
		result, err = h.handleSelectImage(ctx, args)
	case "publish_now":
		result, err = h.handlePublishNow(ctx, args)
	case "cancel_post":
		result, err = h.handleCancelPost(ctx, msg.Chat.ID, args)
	case "help":
		result = h.buildHelpMessage(args)
	default:
		// Not a recognized command: ignored, not an error.
		return
	}

	metrics.IncCommand(command, err)
	h.audit(ctx, actor, command, strings.Join(args, " "), err, result)
	if err != nil {
		h.reply(msg.Chat.ID, h.userMessage(command, err))
		return
	}
	h.reply(msg.Chat.ID, result)
}

func (h *Handler) handleGeneratePost(ctx context.Context, actor string, args []string) (string, error) {
	if len(args) < 1 {
		return "", domain.NewValidationError("Usage: /generate_post <url>")
	}
	interaction, err := h.interactions.CreateInteraction(ctx, domain.Interaction{
		Actor:   actor,
		Command: "generate_post",
		RawArgs: strings.Join(args, " "),
		Status:  domain.InteractionPending,
	})
	var originID *int64
	if err != nil {
		h.log.Error().Err(err).Msg("bot: failed to record originating interaction")
	} else {
		originID = &interaction.ID
	}

	post, err := h.composeUC.ComposeFromURL(ctx, args[0], originID)
	if err != nil {
		return "", err
	}
	post, err = h.workflowUC.SubmitForReview(ctx, post.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Draft #%d is ready for review:\n\n%s\n\nUse /review_post %d to work on it, /schedule_post %d to schedule it.", post.ID, post.Content, post.ID, post.ID), nil
}

func (h *Handler) handleViewScheduled(ctx context.Context, args []string) (string, error) {
	filter := "scheduled"
	if len(args) > 0 {
		filter = strings.ToLower(args[0])
	}
	var states []domain.WorkflowState
	switch filter {
	case "scheduled":
		states = []domain.WorkflowState{domain.StateScheduled}
	case "all":
		states = []domain.WorkflowState{domain.StateDraft, domain.StatePendingReview, domain.StateScheduled}
	case "active":
		states = []domain.WorkflowState{domain.StatePendingReview, domain.StateScheduled}
	default:
		return "", domain.NewValidationError("Usage: /view_scheduled [scheduled|all|active]")
	}
	posts, err := h.posts.ListByState(ctx, states, h.viewCap)
	if err != nil {
		return "", err
	}
	if len(posts) == 0 {
		return "No posts match.", nil
	}
	return h.renderPostList(posts), nil
}

func (h *Handler) handleViewPending(ctx context.Context) (string, error) {
	posts, err := h.posts.ListByState(ctx, []domain.WorkflowState{domain.StatePendingReview}, h.viewCap)
	if err != nil {
		return "", err
	}
	if len(posts) == 0 {
		return "Nothing is waiting for review.", nil
	}
	return h.renderPostList(posts), nil
}

func (h *Handler) handleReviewPost(ctx context.Context, chatID int64, args []string) (string, error) {
	id, err := parsePostID(args, "Usage: /review_post <postId>")
	if err != nil {
		return "", err
	}
	post, err := h.posts.GetPost(ctx, id)
	if err != nil {
		return "", err
	}
	if err := h.pins.Set(ctx, pinKey(chatID), []byte(strconv.FormatInt(post.ID, 10)), reviewPinTTL); err != nil {
		h.log.Error().Err(err).Int64("post", post.ID).Msg("bot: failed to pin post for review")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Post #%d [%s]\n\n%s\n", post.ID, post.State, post.Content)
	if post.ScheduledAt != nil {
		fmt.Fprintf(&b, "\nScheduled for %s", h.formatInstant(post, *post.ScheduledAt))
		if post.Priority != domain.PriorityNone {
			fmt.Fprintf(&b, " (%s)", post.Priority)
		}
	}
	variations, err := h.posts.ListVariations(ctx, post.ID)
	if err == nil && len(variations) > 0 {
		b.WriteString("\n\nVariations:")
		for _, v := range variations {
			marker := " "
			if v.IsSelected {
				marker = "*"
			}
			fmt.Fprintf(&b, "\n%s %s", marker, v.VariationType)
		}
	}
	images, err := h.posts.ListImageOptions(ctx, post.ID)
	if err == nil && len(images) > 0 {
		b.WriteString("\n\nImages:")
		for _, img := range images {
			marker := " "
			if img.IsSelected {
				marker = "*"
			}
			fmt.Fprintf(&b, "\n%s %d. %s", marker, img.OptionIndex, img.URL)
		}
	}
	b.WriteString("\n\nReply in free text to reword or reschedule this post.")
	return b.String(), nil
}

func (h *Handler) handleSchedulePost(ctx context.Context, args []string) (string, error) {
	if len(args) < 1 {
		return "", domain.NewValidationError("Usage: /schedule_post <postId> [date time | P1|P2|P3]")
	}
	id, err := parsePostID(args[:1], "Usage: /schedule_post <postId> [date time | P1|P2|P3]")
	if err != nil {
		return "", err
	}

	target := workflow.ScheduleTarget{Priority: h.defaultPriority}
	rest := args[1:]
	switch {
	case len(rest) == 0:
		// Default priority bucket.
	case len(rest) == 1:
		priority, ok := domain.ParsePriority(rest[0])
		if !ok {
			return "", domain.NewValidationError("Expected a priority (P1, P2 or P3) or a date and time, got %q.", rest[0])
		}
		target = workflow.ScheduleTarget{Priority: priority}
	default:
		target = workflow.ScheduleTarget{Date: strings.Join(rest, " ")}
	}

	post, err := h.posts.GetPost(ctx, id)
	if err != nil {
		return "", err
	}
	if post.State == domain.StateScheduled {
		post, err = h.workflowUC.Reschedule(ctx, id, target)
	} else {
		post, err = h.workflowUC.ApproveAndSchedule(ctx, id, target)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Post #%d scheduled for %s.", post.ID, h.formatInstant(post, *post.ScheduledAt)), nil
}

func (h *Handler) handleSelectImage(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return "", domain.NewValidationError("Usage: /select_image <postId> <index>")
	}
	id, err := parsePostID(args[:1], "Usage: /select_image <postId> <index>")
	if err != nil {
		return "", err
	}
	index, convErr := strconv.Atoi(args[1])
	if convErr != nil || index < 0 {
		return "", domain.NewValidationError("Image index must be a non-negative number, got %q.", args[1])
	}
	option, err := h.workflowUC.SelectImage(ctx, id, index)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Image %d selected for post #%d: %s", option.OptionIndex, id, option.URL), nil
}

func (h *Handler) handlePublishNow(ctx context.Context, args []string) (string, error) {
	id, err := parsePostID(args, "Usage: /publish_now <postId>")
	if err != nil {
		return "", err
	}
	post, err := h.workflowUC.PublishNow(ctx, id)
	if err != nil {
		return "", err
	}
	return h.renderPublishOutcome(post), nil
}

func (h *Handler) handleCancelPost(ctx context.Context, chatID int64, args []string) (string, error) {
	id, err := parsePostID(args, "Usage: /cancel_post <postId>")
	if err != nil {
		return "", err
	}
	post, err := h.workflowUC.Cancel(ctx, id)
	if err != nil {
		return "", err
	}
	h.clearPinIf(ctx, chatID, id)
	return fmt.Sprintf("Post #%d cancelled.", post.ID), nil
}

// handleReviewReply routes free text to the response router when the
// chat has a pinned post under review. Without a pin the text is
// ignored the same way an unknown command is.
func (h *Handler) handleReviewReply(ctx context.Context, msg *tgbotapi.Message, text string) {
	raw, err := h.pins.Get(ctx, pinKey(msg.Chat.ID))
	if err != nil {
		return
	}
	postID, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return
	}
	post, err := h.posts.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			h.clearPinIf(ctx, msg.Chat.ID, postID)
			return
		}
		h.reply(msg.Chat.ID, h.userMessage("review_reply", err))
		return
	}

	actor := "unknown"
	if msg.From != nil {
		actor = strconv.FormatInt(msg.From.ID, 10)
	}

	outcome, err := h.router.Route(ctx, post, text)
	if err != nil {
		metrics.IncCommand("review_reply", err)
		h.reply(msg.Chat.ID, h.userMessage("review_reply", err))
		return
	}

	var result string
	switch outcome.Intent {
	case domain.IntentRewritePost:
		result, err = h.applyRewrite(ctx, post, text)
	case domain.IntentUpdateDate:
		result, err = h.applyReschedule(ctx, post, outcome)
	default:
		result = outcome.Message
	}
	metrics.IncCommand("review_reply", err)
	h.audit(ctx, actor, "review_reply", text, err, result)
	if err != nil {
		h.reply(msg.Chat.ID, h.userMessage("review_reply", err))
		return
	}
	h.reply(msg.Chat.ID, result)
}

func (h *Handler) applyRewrite(ctx context.Context, post domain.Post, instruction string) (string, error) {
	content, err := h.composeUC.Rewrite(ctx, post, instruction)
	if err != nil {
		return "", err
	}
	updated, err := h.workflowUC.EditContent(ctx, post.ID, content)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Post #%d reworded:\n\n%s", updated.ID, updated.Content), nil
}

func (h *Handler) applyReschedule(ctx context.Context, post domain.Post, outcome respond.Result) (string, error) {
	target := workflow.ScheduleTarget{Priority: outcome.Priority}
	if outcome.At != nil {
		target = workflow.ScheduleTarget{Date: outcome.At.In(h.postLocation(post)).Format(h.dateFormat)}
	}
	var (
		updated domain.Post
		err     error
	)
	if post.State == domain.StateScheduled {
		updated, err = h.workflowUC.Reschedule(ctx, post.ID, target)
	} else {
		updated, err = h.workflowUC.ApproveAndSchedule(ctx, post.ID, target)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Post #%d rescheduled for %s.", updated.ID, h.formatInstant(updated, *updated.ScheduledAt)), nil
}

func (h *Handler) renderPostList(posts []domain.Post) string {
	var b strings.Builder
	for i, post := range posts {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("#%d [%s] %s", post.ID, post.State, firstLine(post.Content))
		if post.ScheduledAt != nil {
			line += fmt.Sprintf(" — %s", h.formatInstant(post, *post.ScheduledAt))
		}
		b.WriteString(line)
	}
	return b.String()
}

func (h *Handler) renderPublishOutcome(post domain.Post) string {
	var b strings.Builder
	if post.State == domain.StatePublished {
		fmt.Fprintf(&b, "Post #%d published.", post.ID)
	} else {
		fmt.Fprintf(&b, "Post #%d failed to publish.", post.ID)
	}
	for _, r := range post.PublishResults {
		if r.Success {
			fmt.Fprintf(&b, "\n%s: ok (%s)", r.Platform, r.PlatformPostID)
		} else {
			fmt.Fprintf(&b, "\n%s: failed (%s)", r.Platform, r.Error)
		}
	}
	return b.String()
}

var usage = map[string]string{
	"generate_post":  "/generate_post <url> — generate a draft post from a web page and submit it for review.",
	"view_scheduled": "/view_scheduled [scheduled|all|active] — list posts; defaults to scheduled ones.",
	"view_pending":   "/view_pending — list posts waiting for review.",
	"review_post":    "/review_post <postId> — show a post and pin it so free-text replies apply to it.",
	"schedule_post":  "/schedule_post <postId> [date time | P1|P2|P3] — approve and schedule; defaults to the standard priority bucket.",
	"select_image":   "/select_image <postId> <index> — pick one of the post's image options.",
	"publish_now":    "/publish_now <postId> — publish immediately, skipping the schedule.",
	"cancel_post":    "/cancel_post <postId> — cancel a pending or scheduled post.",
	"help":           "/help [command] — show this list or one command's usage.",
}

var helpOrder = []string{
	"generate_post", "view_scheduled", "view_pending", "review_post",
	"schedule_post", "select_image", "publish_now", "cancel_post", "help",
}

func (h *Handler) buildHelpMessage(args []string) string {
	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		if text, ok := usage[name]; ok {
			return text
		}
		return fmt.Sprintf("Unknown command %q. Send /help for the full list.", args[0])
	}
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range helpOrder {
		b.WriteString("\n" + usage[name])
	}
	return b.String()
}

// userMessage maps an error to chat text. Validation and transition
// errors are shown verbatim; internals are logged, never echoed.
func (h *Handler) userMessage(command string, err error) string {
	if domain.IsValidation(err) {
		return err.Error()
	}
	var transition *domain.InvalidTransitionError
	if errors.As(err, &transition) {
		return "That is not possible: " + transition.Error() + "."
	}
	if errors.Is(err, domain.ErrPostNotFound) {
		return "Post not found."
	}
	var dispatcher *domain.DispatcherError
	if errors.As(err, &dispatcher) {
		h.log.Error().Err(err).Str("command", command).Msg("bot: dispatcher failure")
		return "The scheduler is unavailable right now. Nothing was changed, please try again."
	}
	h.log.Error().Err(err).Str("command", command).Msg("bot: command failed")
	return "Something went wrong. Please try again later."
}

func (h *Handler) audit(ctx context.Context, actor, command, rawArgs string, cmdErr error, result string) {
	status := domain.InteractionCompleted
	if cmdErr != nil {
		status = domain.InteractionFailed
		result = cmdErr.Error()
	}
	if _, err := h.interactions.CreateInteraction(ctx, domain.Interaction{
		Actor:   actor,
		Command: command,
		RawArgs: rawArgs,
		Status:  status,
		Result:  result,
	}); err != nil {
		h.log.Error().Err(err).Str("command", command).Msg("bot: failed to record interaction")
	}
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text, h.replyBudget) {
		msg := tgbotapi.NewMessage(chatID, part)
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("bot: failed to send message")
			return
		}
	}
}

func (h *Handler) clearPinIf(ctx context.Context, chatID, postID int64) {
	raw, err := h.pins.Get(ctx, pinKey(chatID))
	if err != nil {
		return
	}
	if string(raw) == strconv.FormatInt(postID, 10) {
		if err := h.pins.Del(ctx, pinKey(chatID)); err != nil {
			h.log.Error().Err(err).Int64("post", postID).Msg("bot: failed to clear review pin")
		}
	}
}

func (h *Handler) formatInstant(post domain.Post, at time.Time) string {
	return at.In(h.postLocation(post)).Format(h.dateFormat + " MST")
}

func (h *Handler) postLocation(post domain.Post) *time.Location {
	if post.Timezone != "" {
		if loc, err := time.LoadLocation(post.Timezone); err == nil {
			return loc
		}
	}
	return h.refZone
}

func parsePostID(args []string, usageText string) (int64, error) {
	if len(args) < 1 {
		return 0, domain.NewValidationError("%s", usageText)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("%q is not a post id. %s", args[0], usageText)
	}
	return id, nil
}

func firstLine(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	const maxLen = 80
	runes := []rune(line)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "…"
	}
	return line
}
