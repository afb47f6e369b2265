// Package session rebuilds logical conversations from raw message rows.
// The grouping ran, with drift and bugs, in half a dozen export scripts
// before being consolidated here.
package session

import (
	"sort"
	"time"

	convdomain "github.com/waybook/pulse/internal/conversation/domain"
	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
	"go.uber.org/zap"
)

// Report describes what reconstruction discarded. None of it is fatal:
// event stores carry a small fraction of malformed rows.
type Report struct {
	// NoSession counts messages without a usable session id.
	NoSession int
	// InvalidTimestamps counts messages excluded for a zero or
	// future-dated (beyond tolerance) created_at.
	InvalidTimestamps int
	// DroppedSessions counts sessions whose every message had an
	// invalid timestamp.
	DroppedSessions int
}

type Reconstructor struct {
	log *zap.Logger

	// futureTolerance bounds how far ahead of now a timestamp may be
	// before the row is treated as malformed.
	futureTolerance time.Duration
}

func NewReconstructor(log *zap.Logger, futureTolerance time.Duration) *Reconstructor {
	if futureTolerance <= 0 {
		futureTolerance = 5 * time.Minute
	}
	return &Reconstructor{
		log:             log.Named("conversation.session"),
		futureTolerance: futureTolerance,
	}
}

type group struct {
	tenantID string
	valid    []eventdomain.MessageEvent
	invalid  int
}

// Reconstruct groups messages into one Conversation per distinct session
// id. Pure with respect to its inputs given a fixed now: the same rows
// and the same reference time always yield the same conversations, in a
// deterministic order.
func (r *Reconstructor) Reconstruct(now time.Time, messages []eventdomain.MessageEvent) ([]convdomain.Conversation, Report) {
	var report Report
	horizon := now.Add(r.futureTolerance)

	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, msg := range messages {
		sessionID, ok := SessionID(msg.ConversationContext)
		if !ok {
			report.NoSession++
			continue
		}

		key := msg.TenantID + "\x00" + sessionID
		g, ok := groups[key]
		if !ok {
			g = &group{tenantID: msg.TenantID}
			groups[key] = g
			order = append(order, key)
		}

		if msg.CreatedAt.IsZero() || (!now.IsZero() && msg.CreatedAt.After(horizon)) {
			g.invalid++
			report.InvalidTimestamps++
			r.log.Debug("message excluded for invalid timestamp",
				zap.String("tenant_id", msg.TenantID),
				zap.String("session_id", sessionID),
				zap.Time("created_at", msg.CreatedAt),
			)
			continue
		}
		g.valid = append(g.valid, msg)
	}

	conversations := make([]convdomain.Conversation, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		sessionID := key[len(g.tenantID)+1:]

		if len(g.valid) == 0 {
			report.DroppedSessions++
			r.log.Warn("session dropped: no valid timestamps",
				zap.String("tenant_id", g.tenantID),
				zap.String("session_id", sessionID),
				zap.Int("invalid_messages", g.invalid),
			)
			continue
		}

		conversations = append(conversations, buildConversation(g.tenantID, sessionID, g.valid))
	}

	// Network/pagination order is not guaranteed to match event time, so
	// output order is pinned for reproducibility.
	sort.SliceStable(conversations, func(i, j int) bool {
		if conversations[i].StartTime.Equal(conversations[j].StartTime) {
			return conversations[i].SessionID < conversations[j].SessionID
		}
		return conversations[i].StartTime.Before(conversations[j].StartTime)
	})

	return conversations, report
}

func buildConversation(tenantID, sessionID string, messages []eventdomain.MessageEvent) convdomain.Conversation {
	// Stable sort on the event timestamp, not arrival order.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	start := messages[0].CreatedAt
	end := messages[len(messages)-1].CreatedAt

	duration := end.Sub(start).Minutes()
	if duration < 0 {
		// Clock skew: clamp, never propagate a negative duration.
		duration = 0
	}

	conv := convdomain.Conversation{
		SessionID:       sessionID,
		TenantID:        tenantID,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: duration,
		MessageCount:    len(messages),
	}

	confidenceSum := 0.0
	confidenceCount := 0
	for _, msg := range messages {
		if msg.TokensUsed != nil {
			conv.TotalTokens += *msg.TokensUsed
		}
		if msg.APICostUSD != nil {
			conv.TotalAPICost += *msg.APICostUSD
		}
		if msg.ProcessingCostUSD != nil {
			conv.TotalProcCost += *msg.ProcessingCostUSD
		}
		if msg.ConfidenceScore != nil {
			confidenceSum += *msg.ConfidenceScore
			confidenceCount++
		}
		if conv.UserID == "" && msg.UserID != nil {
			conv.UserID = *msg.UserID
		}

		// Later messages override earlier ones: a conversation is
		// classified by its final disposition.
		if msg.ConversationOutcome != nil && *msg.ConversationOutcome != "" {
			conv.Outcome = *msg.ConversationOutcome
		}
	}
	if confidenceCount > 0 {
		conv.AvgConfidence = confidenceSum / float64(confidenceCount)
	}

	return conv
}
