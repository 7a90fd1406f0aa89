package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func prospect(id, email string, score int) model.Prospect {
	return model.Prospect{
		ID:      id,
		Name:    "Name " + id,
		Company: "Co " + id,
		Email:   email,
		Channel: model.ChannelEmail,
		Score:   score,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("InsertProspectsSkipsDuplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.InsertProspects(ctx, []model.Prospect{
			prospect("p1", "A@Example.com", 50),
			prospect("p2", "b@example.com", 60),
			{ID: "p3", Name: "No Handle", Channel: model.ChannelSMS, Phone: "+256700000001"},
			{ID: "p4", Name: "No Handle 2", Channel: model.ChannelSMS, Phone: "+256700000002"},
		})
		require.NoError(t, err)
		assert.Equal(t, 4, n, "dedup-exempt rows never collide")

		n, err = s.InsertProspects(ctx, []model.Prospect{prospect("p5", "a@example.com", 70)})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := s.GetProspect(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", got.DedupKey)
		assert.Equal(t, model.ProspectNew, got.Status)
		assert.Nil(t, got.LastContactedAt)
	})

	t.Run("ExistingDedupKeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.InsertProspects(ctx, []model.Prospect{
			prospect("p1", "a@example.com", 50),
			{ID: "p2", ProfileURL: "https://www.linkedin.com/in/jane/", Channel: model.ChannelLinkedIn},
		})
		require.NoError(t, err)

		found, err := s.ExistingDedupKeys(ctx, []string{"a@example.com", "linkedin.com/in/jane", "c@example.com"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"a@example.com": true, "linkedin.com/in/jane": true}, found)

		empty, err := s.ExistingDedupKeys(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ListProspectsByStatusOrdersByScore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.InsertProspects(ctx, []model.Prospect{
			prospect("low", "low@example.com", 40),
			prospect("high", "high@example.com", 90),
			prospect("mid", "mid@example.com", 60),
		})
		require.NoError(t, err)
		require.NoError(t, s.SkipProspect(ctx, "mid", "missing contact"))

		list, err := s.ListProspectsByStatus(ctx, model.ProspectNew, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "high", list[0].ID)
		assert.Equal(t, "low", list[1].ID)

		skipped, err := s.GetProspect(ctx, "mid")
		require.NoError(t, err)
		assert.Equal(t, model.ProspectSkipped, skipped.Status)
		assert.Equal(t, "missing contact", skipped.SkipReason)
	})

	t.Run("GetProspectNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetProspect(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("FindProspectByContact", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.InsertProspects(ctx, []model.Prospect{
			prospect("p1", "jane@example.com", 50),
			{ID: "p2", Phone: "+256700000009", Channel: model.ChannelWhatsApp},
		})
		require.NoError(t, err)

		p, err := s.FindProspectByContact(ctx, "Jane@Example.com")
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)

		p, err = s.FindProspectByContact(ctx, "+256700000009")
		require.NoError(t, err)
		assert.Equal(t, "p2", p.ID)

		_, err = s.FindProspectByContact(ctx, "nobody@example.com")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("RecordOutreachAndCountSent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.InsertProspects(ctx, []model.Prospect{prospect("p1", "a@example.com", 50)})
		require.NoError(t, err)

		now := time.Now().UTC()
		require.NoError(t, s.RecordOutreach(ctx, model.OutreachMessage{
			ProspectID: "p1", Channel: model.ChannelEmail, Text: "hi", SentAt: now,
		}))
		require.NoError(t, s.RecordOutreach(ctx, model.OutreachMessage{
			ProspectID: "other", Channel: model.ChannelSMS, Text: "old", SentAt: now.Add(-48 * time.Hour),
		}))

		counts, err := s.CountSentSince(ctx, model.StartOfUTCDay(now))
		require.NoError(t, err)
		assert.Equal(t, map[model.Channel]int{model.ChannelEmail: 1}, counts)

		p, err := s.GetProspect(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, model.ProspectContacted, p.Status)
		require.NotNil(t, p.LastContactedAt)
	})

	t.Run("RunSummaries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		start := time.Now().UTC()
		require.NoError(t, s.SaveRunSummary(ctx, model.RunSummary{
			StartedAt: start, FinishedAt: start.Add(time.Second), Sent: 2,
			Caps: map[model.Channel]int{model.ChannelEmail: 2}, LimitReached: false,
		}))
		require.NoError(t, s.SaveRunSummary(ctx, model.RunSummary{
			StartedAt: start.Add(time.Minute), FinishedAt: start.Add(time.Minute), LimitReached: true,
		}))

		runs, err := s.ListRunSummaries(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.True(t, runs[0].LimitReached)
		assert.Equal(t, 2, runs[1].Sent)
		assert.Equal(t, 2, runs[1].Caps[model.ChannelEmail])
	})

	t.Run("Leases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.AcquireLease(ctx, "outreach", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AcquireLease(ctx, "outreach", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "live lease held by another holder")

		ok, err = s.AcquireLease(ctx, "outreach", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "holder may renew")

		require.NoError(t, s.ReleaseLease(ctx, "outreach", "a"))
		ok, err = s.AcquireLease(ctx, "outreach", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		leases, err := s.ListLeases(ctx)
		require.NoError(t, err)
		require.Len(t, leases, 1)
		assert.Equal(t, "b", leases[0].Holder)
		assert.False(t, leases[0].Expired(time.Now()))

		// Expired lease can be taken over.
		ok, err = s.AcquireLease(ctx, "expiring", "a", -time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.AcquireLease(ctx, "expiring", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ApplyConversionAtomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.InsertProspects(ctx, []model.Prospect{prospect("p1", "a@example.com", 50)})
		require.NoError(t, err)

		lead := &model.Lead{ID: "p1", ProspectID: "p1", Name: "A", Channel: model.ChannelEmail, Stage: model.StageDemoRequested}
		lead.SetScore(85)
		err = s.ApplyConversion(ctx, ConversionTx{
			Lead:           lead,
			ProspectID:     "p1",
			ProspectStatus: model.ProspectConverted,
			Record:         model.ConversionRecord{LeadID: "p1", ProspectID: "p1", Intent: model.IntentBookDemo, Text: "book me"},
		})
		require.NoError(t, err)

		got, err := s.GetLead(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, model.TierHot, got.Tier)
		assert.Equal(t, model.StageDemoRequested, got.Stage)

		p, err := s.GetProspect(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, model.ProspectConverted, p.Status)
		require.NotNil(t, p.LastReplyAt)

		// Unknown prospect rolls back the lead upsert.
		err = s.ApplyConversion(ctx, ConversionTx{
			Lead:           &model.Lead{ID: "ghost", Channel: model.ChannelEmail, Stage: model.StageNew},
			ProspectID:     "ghost",
			ProspectStatus: model.ProspectConverted,
			Record:         model.ConversionRecord{LeadID: "ghost", Intent: model.IntentInterest},
		})
		require.Error(t, err)
		_, err = s.GetLead(ctx, "ghost")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("UpdateLeadStage", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ApplyConversion(ctx, ConversionTx{
			Lead:   &model.Lead{ID: "l1", Channel: model.ChannelSMS, Stage: model.StageNew},
			Record: model.ConversionRecord{LeadID: "l1", Intent: model.IntentQuestion},
		}))
		require.NoError(t, s.UpdateLeadStage(ctx, "l1", model.StageDemoBooked))
		got, err := s.GetLead(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, model.StageDemoBooked, got.Stage)

		err = s.UpdateLeadStage(ctx, "missing", model.StageDemoBooked)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("OffersOnePendingPerLead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &model.BookingOffer{LeadID: "l1", Channel: model.ChannelEmail, Slots: []model.Slot{{Token: "1", Label: "Mon 10:00"}}}
		require.NoError(t, s.CreateOffer(ctx, first))
		second := &model.BookingOffer{LeadID: "l1", Channel: model.ChannelEmail, Slots: []model.Slot{{Token: "1", Label: "Tue 10:00"}}}
		require.NoError(t, s.CreateOffer(ctx, second))

		got, err := s.LatestOffer(ctx, "l1", model.OfferPending)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.Equal(t, "Tue 10:00", got.Slots[0].Label)

		err = s.TransitionOffer(ctx, first.ID, model.OfferPending, model.OfferConfirming, "1")
		assert.True(t, errors.Is(err, ErrConflict), "first offer was expired")

		require.NoError(t, s.TransitionOffer(ctx, second.ID, model.OfferPending, model.OfferConfirming, "1"))
		_, err = s.LatestOffer(ctx, "l1", model.OfferPending)
		assert.True(t, errors.Is(err, ErrNotFound))

		claimed, err := s.LatestOffer(ctx, "l1", model.OfferConfirming)
		require.NoError(t, err)
		assert.Equal(t, second.ID, claimed.ID)
		assert.Equal(t, "1", claimed.SelectedToken)
		assert.Equal(t, model.OfferConfirming, claimed.Status)
	})

	t.Run("CreateBookingOncePerOffer", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		b := &model.Booking{LeadID: "l1", OfferID: "o1", Slot: model.Slot{Token: "2"}}
		require.NoError(t, s.CreateBooking(ctx, b))
		err := s.CreateBooking(ctx, &model.Booking{LeadID: "l1", OfferID: "o1"})
		assert.True(t, errors.Is(err, ErrConflict))
	})

	t.Run("QualificationSession", func(t *testing.T) {
		s := newStore(t)
		qs := &model.QualificationSession{LeadID: "l1", Prompts: []string{"What is your email?"}}
		require.NoError(t, s.CreateQualificationSession(context.Background(), qs))
		assert.NotEmpty(t, qs.ID)
		assert.Equal(t, model.QualificationPending, qs.Status)
	})

	t.Run("OutboxAttemptsAndDeadLetter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n := &model.Notification{Channel: model.ChannelSMS, Recipient: "+1", Payload: "hello"}
		require.NoError(t, s.EnqueueNotification(ctx, n))

		for attempt := 1; attempt <= 3; attempt++ {
			claimed, err := s.ClaimNotifications(ctx, 10)
			require.NoError(t, err)
			require.Len(t, claimed, 1, "attempt %d", attempt)
			assert.Equal(t, model.NotificationSending, claimed[0].Status)

			again, err := s.ClaimNotifications(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, again, "claimed rows are not handed out twice")

			status, err := s.MarkNotificationFailed(ctx, n.ID, "boom", 3)
			require.NoError(t, err)
			if attempt < 3 {
				assert.Equal(t, model.NotificationPending, status)
			} else {
				assert.Equal(t, model.NotificationFailed, status)
			}
		}

		claimed, err := s.ClaimNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed, "dead-lettered rows are never retried")
	})

	t.Run("OutboxSent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &model.Notification{Channel: model.ChannelEmail, Recipient: "a@example.com", Payload: "1", CreatedAt: time.Now().UTC().Add(-time.Minute)}
		b := &model.Notification{Channel: model.ChannelEmail, Recipient: "b@example.com", Payload: "2"}
		require.NoError(t, s.EnqueueNotification(ctx, b))
		require.NoError(t, s.EnqueueNotification(ctx, a))

		claimed, err := s.ClaimNotifications(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, a.ID, claimed[0].ID, "oldest first")

		require.NoError(t, s.MarkNotificationSent(ctx, a.ID))
		err = s.MarkNotificationSent(ctx, a.ID)
		assert.True(t, errors.Is(err, ErrConflict))
	})

	t.Run("OutboxEnqueueSameIDOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.EnqueueNotification(ctx, &model.Notification{ID: "booked:o1", Channel: model.ChannelSMS, Recipient: "+1", Payload: "first"}))
		require.NoError(t, s.EnqueueNotification(ctx, &model.Notification{ID: "booked:o1", Channel: model.ChannelSMS, Recipient: "+1", Payload: "second"}))

		claimed, err := s.ClaimNotifications(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "first", claimed[0].Payload)
	})

	t.Run("OutboxStats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		st, err := s.OutboxStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Pending)
		assert.Nil(t, st.OldestPending)

		old := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
		require.NoError(t, s.EnqueueNotification(ctx, &model.Notification{Channel: model.ChannelSMS, Recipient: "+1", Payload: "a", CreatedAt: old}))
		require.NoError(t, s.EnqueueNotification(ctx, &model.Notification{Channel: model.ChannelSMS, Recipient: "+2", Payload: "b"}))
		require.NoError(t, s.EnqueueNotification(ctx, &model.Notification{Channel: model.ChannelSMS, Recipient: "+3", Payload: "c"}))
		_, err = s.ClaimNotifications(ctx, 1)
		require.NoError(t, err)

		st, err = s.OutboxStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.Pending)
		assert.Equal(t, 1, st.Sending)
		require.NotNil(t, st.OldestPending)
		assert.True(t, st.OldestPending.After(old), "the oldest row was claimed")
	})

	t.Run("OutboxRequeueStale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.EnqueueNotification(ctx, &model.Notification{Channel: model.ChannelSMS, Recipient: "+1", Payload: "x"}))
		claimed, err := s.ClaimNotifications(ctx, 5)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		n, err := s.RequeueStaleNotifications(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		claimed, err = s.ClaimNotifications(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, claimed, 1)
	})

	t.Run("InboundReserveIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		msg := &model.InboundMessage{ID: "instagram_comment_123", Platform: "instagram", Type: "comment", ExternalID: "123", Text: "hi"}
		got, created, err := s.ReserveInbound(ctx, msg)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, model.InboundPending, got.Status)

		dup := &model.InboundMessage{ID: "instagram_comment_123", Platform: "instagram", Text: "hi again"}
		got, created, err = s.ReserveInbound(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "hi", got.Text)

		require.NoError(t, s.UpdateInboundStatus(ctx, msg.ID, model.InboundFailed, "send failed"))
		got, _, err = s.ReserveInbound(ctx, dup)
		require.NoError(t, err)
		assert.Equal(t, model.InboundFailed, got.Status)
		require.NotNil(t, got.FailedAt)

		ok, err := s.ReclaimInbound(ctx, msg.ID, got.FailedAt.Add(-time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "failure is newer than the cutoff")

		ok, err = s.ReclaimInbound(ctx, msg.ID, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ReclaimInbound(ctx, msg.ID, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "only one caller reclaims")
	})

	t.Run("Counters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.IncrementCounter(ctx, "2026-10-18", "leads_converted", 1))
		require.NoError(t, s.IncrementCounter(ctx, "2026-10-18", "leads_converted", 2))
		require.NoError(t, s.IncrementCounter(ctx, "2026-10-19", "leads_converted", 5))

		got, err := s.GetCounters(ctx, "2026-10-18")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"leads_converted": 3}, got)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
