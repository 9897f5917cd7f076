// Package dedup removes surplus agent participants from a call. It is the
// remedy for duplicates that slipped past the spawn fence, and running it
// twice is the same as running it once.
package dedup

import (
	"context"
	"log/slog"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// MemberRef is the short form of a call member used in results.
type MemberRef struct {
	UserID string `json:"id"`
	Name   string `json:"name,omitempty"`
}

// Result reports what a sweep found and did.
type Result struct {
	MeetingID  string      `json:"meetingId"`
	AgentCount int         `json:"agentCount"`
	Kept       *MemberRef  `json:"kept,omitempty"`
	Removed    []MemberRef `json:"removed,omitempty"`

	// Repeated lists non-agent user ids that appear more than once. They
	// are reported only; removing a user id would drop the person.
	Repeated []MemberRef `json:"repeated,omitempty"`
}

// MeetingLister lists meetings to sweep.
type MeetingLister interface {
	ListMeetings(ctx context.Context, f meetings.ListFilter) ([]*meetings.Meeting, error)
}

// Sweeper keeps the newest agent participant of a call and removes the rest.
type Sweeper struct {
	client   provider.Client
	registry *participant.Registry
	meetings MeetingLister
	logger   *slog.Logger
}

// New creates a sweeper. lister may be nil when SweepActive is not used.
func New(client provider.Client, registry *participant.Registry, lister MeetingLister, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		client:   client,
		registry: registry,
		meetings: lister,
		logger:   logger.With("component", "dedup"),
	}
}

// Plan decides which members to remove without touching the provider.
// The kept agent is the one with the latest CreatedAt; ties go to the one
// later in the list.
func (s *Sweeper) Plan(meetingID string, members []provider.Member) (Result, []string) {
	res := Result{MeetingID: meetingID}

	var keep *provider.Member
	agentIDs := make(map[string]bool)
	seen := make(map[string]int)
	for i := range members {
		m := &members[i]
		seen[m.UserID]++
		if !s.registry.IsAgent(*m) {
			if seen[m.UserID] == 2 {
				res.Repeated = append(res.Repeated, ref(*m))
			}
			continue
		}
		res.AgentCount++
		agentIDs[m.UserID] = true
		if keep == nil || !m.CreatedAt.Before(keep.CreatedAt) {
			keep = m
		}
	}
	if keep == nil {
		return res, nil
	}
	k := ref(*keep)
	res.Kept = &k

	if res.AgentCount <= 1 {
		return res, nil
	}

	var remove []string
	for _, m := range members {
		if !agentIDs[m.UserID] || m.UserID == keep.UserID {
			continue
		}
		agentIDs[m.UserID] = false
		res.Removed = append(res.Removed, ref(m))
		remove = append(remove, m.UserID)
	}
	return res, remove
}

// Sweep removes all agent participants but the newest from meetingID's call
// in one member update. With at most one agent it changes nothing.
func (s *Sweeper) Sweep(ctx context.Context, meetingID string) (Result, error) {
	if meetingID == "" {
		return Result{}, apperr.Validation("meetingId is required")
	}
	call, err := s.client.GetCall(ctx, meetingID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return Result{}, err
		}
		return Result{}, apperr.Upstream(err, "load call members")
	}

	res, remove := s.Plan(meetingID, call.Members)
	if len(remove) == 0 {
		return res, nil
	}

	if err := s.client.UpdateCallMembers(ctx, meetingID, nil, remove); err != nil {
		return Result{}, apperr.Upstream(err, "remove duplicate agents")
	}
	s.logger.Info("removed duplicate agents",
		"meeting_id", meetingID,
		"removed", remove,
		"kept", res.Kept.UserID)
	return res, nil
}

// SweepActive sweeps every active meeting and returns the results that
// removed something. A failing meeting is logged and skipped.
func (s *Sweeper) SweepActive(ctx context.Context) ([]Result, error) {
	if s.meetings == nil {
		return nil, apperr.Validation("no meeting store configured")
	}
	active, err := s.meetings.ListMeetings(ctx, meetings.ListFilter{Status: meetings.StatusActive})
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, m := range active {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := s.Sweep(ctx, m.ID)
		if err != nil {
			s.logger.Warn("sweep failed", "meeting_id", m.ID, "error", err)
			continue
		}
		if len(res.Removed) > 0 {
			out = append(out, res)
		}
	}
	return out, nil
}

func ref(m provider.Member) MemberRef {
	return MemberRef{UserID: m.UserID, Name: m.User.Name}
}
