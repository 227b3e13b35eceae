package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go-chat-sync/internal/logger"

	"golang.org/x/sync/errgroup"
)

// enrichLimit bounds the profile/last-message lookups in flight per load.
const enrichLimit = 8

// Directory lists an identity's conversations and finds or creates the one
// shared with a given counterpart.
type Directory struct {
	store DirectoryStore
	log   *logger.Logger
}

func NewDirectory(store DirectoryStore, log *logger.Logger) *Directory {
	return &Directory{store: store, log: log.With("service", "Directory")}
}

// Load returns the enriched conversations of identity, most recently active
// first and never-used conversations last. Conversations whose counterpart
// profile no longer exists are left out. Any other failure fails the whole
// load.
func (d *Directory) Load(ctx context.Context, identity string) ([]ConversationSummary, error) {
	if identity == "" {
		return nil, fmt.Errorf("load conversations: %w", ErrInvalidArgument)
	}

	convs, err := d.store.ConversationsFor(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	results := make([]*ConversationSummary, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichLimit)
	for i, conv := range convs {
		g.Go(func() error {
			summary, err := d.enrich(gctx, identity, conv)
			if err != nil {
				return err
			}
			results[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	out := make([]ConversationSummary, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	SortByActivity(out)
	return out, nil
}

// enrich returns nil without error when the counterpart profile is gone.
func (d *Directory) enrich(ctx context.Context, identity string, conv Conversation) (*ConversationSummary, error) {
	otherID := conv.Other(identity)
	profile, err := d.store.Profile(ctx, otherID)
	if errors.Is(err, ErrNotFound) {
		d.log.Warn("dropping conversation with missing profile", "conversation_id", conv.ID, "other_id", otherID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", otherID, err)
	}

	summary := &ConversationSummary{Conversation: conv, OtherUser: profile}
	last, err := d.store.LastMessage(ctx, conv.ID)
	switch {
	case err == nil:
		summary.LastMessage = &last
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("last message %s: %w", conv.ID, err)
	}
	return summary, nil
}

// SortByActivity orders summaries by last activity descending with nil
// last activity at the end. The sort is stable.
func SortByActivity(s []ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i].LastMessageAt, s[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// GetOrCreate returns the id of the conversation between current and other,
// creating it when none exists. A uniqueness conflict on create means another
// caller won the race, so the pair is looked up again.
func (d *Directory) GetOrCreate(ctx context.Context, current, other string) (string, error) {
	if current == "" || other == "" || current == other {
		return "", fmt.Errorf("get or create conversation: %w", ErrInvalidArgument)
	}

	conv, err := d.store.FindConversation(ctx, current, other)
	if err == nil {
		return conv.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("find conversation: %w", err)
	}

	conv, err = d.store.CreateConversation(ctx, current, other)
	if err == nil {
		d.log.Info("conversation created", "conversation_id", conv.ID)
		return conv.ID, nil
	}
	if !errors.Is(err, ErrConflict) {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	conv, err = d.store.FindConversation(ctx, current, other)
	if err != nil {
		return "", fmt.Errorf("find conversation after conflict: %w", err)
	}
	return conv.ID, nil
}
