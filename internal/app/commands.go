package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"rallybot/internal/calendar"
	"rallybot/internal/invite"
	"rallybot/internal/scheduler"
	"rallybot/internal/season"
	"rallybot/internal/storage"
	"rallybot/internal/transport"
	"rallybot/internal/transport/telegram"
	"rallybot/internal/trigger"
	logx "rallybot/pkg/logx"
)

const inviteUnique = "invite"

type triggerView interface {
	RefreshAsync()
	Snapshot() []scheduler.Info
}

// commands implements the chat commands. Every handler returns the reply
// text; the adapter sends it.
type commands struct {
	store   storage.Store
	reg     triggerView
	seasons *season.Handler
	invites *invite.Store
	sender  transport.Sender
	clk     clock.Clock
	loc     func() *time.Location
	log     logx.Logger
}

func (c *commands) register(ad *telegram.Adapter) {
	ad.HandleCommand("season", c.season)
	ad.HandleCommand("setpoll", c.setPoll)
	ad.HandleCommand("setmatch", c.setMatch)
	ad.HandleCommand("week", c.week)
	ad.HandleCommand("triggers", c.triggers)
	ad.HandleCommand("invite", c.invite)
	ad.HandleCallback(inviteUnique, c.confirmInvite)
}

// saveSeason persists se and asks the scheduler to pick up the change.
func (c *commands) saveSeason(ctx context.Context, se storage.Season) (int64, error) {
	id, err := c.store.SaveSeason(ctx, se)
	if err != nil {
		return 0, err
	}
	c.reg.RefreshAsync()
	return id, nil
}

// chatSeason returns the active season bound to chatID.
func (c *commands) chatSeason(ctx context.Context, chatID int64) (storage.Season, bool, error) {
	all, err := c.store.ListActiveSeasons(ctx)
	if err != nil {
		return storage.Season{}, false, err
	}
	for _, se := range all {
		if se.ChatID == chatID {
			return se, true, nil
		}
	}
	return storage.Season{}, false, nil
}

const noSeason = "No active season in this chat. Start one with /season new <name>."

func (c *commands) season(ctx context.Context, r telegram.Request) (string, error) {
	se, ok, err := c.chatSeason(ctx, r.ChatID)
	if err != nil {
		return "", err
	}

	if len(r.Args) > 0 && strings.EqualFold(r.Args[0], "new") {
		name := strings.TrimSpace(strings.Join(r.Args[1:], " "))
		if name == "" {
			return "Usage: /season new <name>", nil
		}
		if ok {
			se.Active = false
			if _, err := c.saveSeason(ctx, se); err != nil {
				return "", err
			}
		}
		id, err := c.saveSeason(ctx, storage.Season{ChatID: r.ChatID, ThreadID: r.ThreadID, Name: name, Active: true})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Season %q started (id %d). Set the schedule with /setpoll and /setmatch.", name, id), nil
	}

	if !ok {
		return noSeason, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (id %d)\n", se.Name, se.ID)
	fmt.Fprintf(&b, "Poll: %s\n", describeSlot(se.PollDay, se.PollTime))
	fmt.Fprintf(&b, "Match: %s\n", describeSlot(se.MatchDay, se.MatchTime))
	fmt.Fprintf(&b, "Week: %s", c.weekLine(c.seasons.TargetWeek(se)))
	return b.String(), nil
}

func describeSlot(day, tod string) string {
	if strings.TrimSpace(day) == "" || strings.TrimSpace(tod) == "" {
		return "not set"
	}
	return day + " " + tod
}

// setPoll handles "/setpoll <day> <HH:MM> [reminder offset hours]".
func (c *commands) setPoll(ctx context.Context, r telegram.Request) (string, error) {
	return c.setSlot(ctx, r, "Usage: /setpoll <day> <HH:MM> [reminder hours after]", func(se *storage.Season, day, tod string, off int) {
		se.PollDay, se.PollTime, se.PollReminderOffsetHours = day, tod, off
	})
}

// setMatch handles "/setmatch <day> <HH:MM> [reminder hours before]".
func (c *commands) setMatch(ctx context.Context, r telegram.Request) (string, error) {
	return c.setSlot(ctx, r, "Usage: /setmatch <day> <HH:MM> [reminder hours before]", func(se *storage.Season, day, tod string, off int) {
		se.MatchDay, se.MatchTime, se.MatchDayReminderOffsetHours = day, tod, off
	})
}

func (c *commands) setSlot(ctx context.Context, r telegram.Request, usage string, set func(se *storage.Season, day, tod string, off int)) (string, error) {
	if len(r.Args) < 2 || len(r.Args) > 3 {
		return usage, nil
	}
	day := strings.ToLower(strings.TrimSpace(r.Args[0]))
	tod := strings.TrimSpace(r.Args[1])
	off := 0
	if len(r.Args) == 3 {
		n, err := strconv.Atoi(r.Args[2])
		if err != nil || n < 0 {
			return usage, nil
		}
		off = n
	}
	spec, err := trigger.Build(day, tod, 0)
	if err != nil {
		return slotError(err), nil
	}

	se, ok, err := c.chatSeason(ctx, r.ChatID)
	if err != nil {
		return "", err
	}
	if !ok {
		return noSeason, nil
	}
	set(&se, day, fmt.Sprintf("%02d:%02d", spec.Hour, spec.Minute), off)
	if _, err := c.saveSeason(ctx, se); err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved: %s. Triggers are being updated.", spec), nil
}

func slotError(err error) string {
	switch {
	case errors.Is(err, trigger.ErrInvalidWeekday):
		return "Unknown day. Use one of sun, mon, tue, wed, thu, fri, sat."
	case errors.Is(err, trigger.ErrInvalidTimeFormat):
		return "Time must look like HH:MM."
	case errors.Is(err, trigger.ErrInvalidTimeRange):
		return "Time is out of range (00:00 to 23:59)."
	default:
		return err.Error()
	}
}

// week handles "/week", "/week <n> [year]" and "/week YYYY-MM-DD".
func (c *commands) week(ctx context.Context, r telegram.Request) (string, error) {
	loc := c.loc()
	now := c.clk.Now().In(loc)

	sched := calendar.CurrentWeek(c.clk, loc)
	if se, ok, err := c.chatSeason(ctx, r.ChatID); err != nil {
		return "", err
	} else if ok {
		sched = c.seasons.TargetWeek(se)
	}

	q, err := parseWeekArgs(r.Args, loc)
	if err != nil {
		return "Usage: /week [week [year]] or /week YYYY-MM-DD", nil
	}
	w, err := calendar.ResolveTargetWeek(sched, q, now)
	switch {
	case errors.Is(err, calendar.ErrInvalidWeekNumber):
		year := q.Year
		if year == 0 {
			year = now.Year()
		}
		return fmt.Sprintf("Week %d does not exist in %d (it has %d weeks).", q.Week, year, calendar.WeeksInYear(year)), nil
	case errors.Is(err, calendar.ErrPastWeek):
		return fmt.Sprintf("That week is already over. The current scheduling week is %s.", c.weekLine(sched)), nil
	case err != nil:
		return "", err
	}
	return c.weekLine(w), nil
}

func parseWeekArgs(args []string, loc *time.Location) (calendar.TargetQuery, error) {
	var q calendar.TargetQuery
	switch len(args) {
	case 0:
		return q, nil
	case 1:
		if d, err := time.ParseInLocation("2006-01-02", args[0], loc); err == nil {
			q.Date = d
			q.AllowPast = true
			return q, nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return q, err
		}
		q.Week = n
	case 2:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return q, err
		}
		y, err := strconv.Atoi(args[1])
		if err != nil {
			return q, err
		}
		q.Week, q.Year = n, y
	default:
		return q, errors.New("too many arguments")
	}
	if q.Week == 0 {
		return q, errors.New("week must not be 0")
	}
	return q, nil
}

func (c *commands) weekLine(w calendar.Week) string {
	start, end := w.Range(c.loc())
	return fmt.Sprintf("week %d of %d (%s to %s)", w.Number, w.Year, start.Format("Mon 2 Jan"), end.Format("Mon 2 Jan"))
}

func (c *commands) triggers(ctx context.Context, r telegram.Request) (string, error) {
	infos := c.reg.Snapshot()
	if len(infos) == 0 {
		return "No triggers armed.", nil
	}
	var b strings.Builder
	for i, in := range infos {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s  next %s", in.Key, in.Spec, in.Next.In(c.loc()).Format("Mon 2 Jan 15:04"))
	}
	return b.String(), nil
}

func inviteKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

// invite handles "/invite @username [name]" and "/invite <user id> [name]".
// The confirm button message id is the correlation id.
func (c *commands) invite(ctx context.Context, r telegram.Request) (string, error) {
	if len(r.Args) == 0 {
		return "Usage: /invite @username [name] or /invite <user id> [name]", nil
	}
	var id invite.Identity
	who := r.Args[0]
	if strings.HasPrefix(who, "@") && len(who) > 1 {
		id.Username = strings.ToLower(strings.TrimPrefix(who, "@"))
	} else if n, err := strconv.ParseInt(who, 10, 64); err == nil && n > 0 {
		id.UserID = n
	} else {
		return "Usage: /invite @username [name] or /invite <user id> [name]", nil
	}
	display := strings.TrimSpace(strings.Join(r.Args[1:], " "))
	if display == "" {
		display = who
	}

	se, ok, err := c.chatSeason(ctx, r.ChatID)
	if err != nil {
		return "", err
	}
	if !ok {
		return noSeason, nil
	}

	text := fmt.Sprintf("%s, you are invited to %s. Tap Join to confirm.", display, se.Name)
	markup := telegram.Button(inviteUnique, "Join", strconv.FormatInt(se.ID, 10))
	ref, err := c.sender.SendText(ctx, transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}, text, &transport.SendOptions{ReplyMarkupAdapter: markup})
	if err != nil {
		return "", fmt.Errorf("send invitation: %w", err)
	}
	c.invites.Add(inviteKey(ref.ChatID, ref.MessageID), invite.Invitation{
		Identity:      id,
		DisplayName:   display,
		OriginChat:    r.ChatID,
		OriginMessage: r.MessageID,
		SeasonID:      se.ID,
		InitiatorID:   r.FromID,
	})
	c.log.Info("invitation created", logx.Int64("season", se.ID), logx.Int("message", ref.MessageID))
	return "", nil
}

func (c *commands) confirmInvite(ctx context.Context, r telegram.Request) (string, error) {
	key := inviteKey(r.ChatID, r.MessageID)
	inv, ok := c.invites.Get(key)
	if !ok {
		return "This invitation has expired.", nil
	}
	if !matches(inv.Identity, r) {
		return "This invitation is for someone else.", nil
	}
	if _, ok := c.invites.Consume(key); !ok {
		return "This invitation has expired.", nil
	}

	text := inv.DisplayName + " joined."
	if se, err := c.store.GetSeason(ctx, inv.SeasonID); err == nil && se.Name != "" {
		text = fmt.Sprintf("%s joined %s.", inv.DisplayName, se.Name)
	}
	if _, err := c.sender.SendText(ctx, transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}, text, nil); err != nil {
		c.log.Warn("join announcement failed", logx.Int64("chat", r.ChatID), logx.Err(err))
	}
	return "Welcome!", nil
}

func matches(id invite.Identity, r telegram.Request) bool {
	if id.IsUsername() {
		return strings.EqualFold(id.Username, r.FromUsername)
	}
	return id.UserID == r.FromID
}
