// Package judge sends sampled conversations to a language model for
// critique and consolidates the critiques into one summary.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/chatlens/internal/chats"
	"github.com/blackwell-systems/chatlens/internal/llm"
)

// ErrNothingToConsolidate is returned by Consolidate for an empty batch.
var ErrNothingToConsolidate = errors.New("no feedback to consolidate")

// FeedbackRecord is the critique of one conversation.
type FeedbackRecord struct {
	ChatID           string          `json:"chat_id"`
	Feedback         string          `json:"feedback"`
	JudgeModel       string          `json:"judge_model"`
	OriginalMessages []chats.Message `json:"original_messages,omitempty"`
}

// ConsolidatedFeedback summarizes a batch of critiques.
type ConsolidatedFeedback struct {
	Feedback          string `json:"feedback"`
	JudgeModel        string `json:"judge_model"`
	ConversationCount int    `json:"conversation_count"`
}

// Skipped names a conversation whose critique failed.
type Skipped struct {
	ChatID string `json:"chat_id"`
	Error  string `json:"error"`
}

// Result is the outcome of JudgeAll. Records keep sample order.
type Result struct {
	Retrieved int
	Records   []FeedbackRecord
	Skipped   []Skipped
}

// Sampler supplies the conversations to judge.
type Sampler interface {
	Sample(ctx context.Context, limit int, includeEmpty bool) ([]chats.Record, error)
}

// Sink receives each feedback record as soon as it is produced.
type Sink interface {
	Write(v any) error
}

// Judge critiques conversations with a language model.
type Judge struct {
	model       string
	completer   llm.Completer
	sampler     Sampler
	concurrency int
	sink        Sink
	log         *zap.Logger
}

// Option adjusts a Judge.
type Option func(*Judge)

// WithSink streams every successful record to s.
func WithSink(s Sink) Option {
	return func(j *Judge) { j.sink = s }
}

// WithConcurrency bounds the number of conversations judged at once.
func WithConcurrency(n int) Option {
	return func(j *Judge) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// New returns a Judge that samples through s and asks model via c.
func New(c llm.Completer, s Sampler, model string, log *zap.Logger, opts ...Option) *Judge {
	if log == nil {
		log = zap.NewNop()
	}
	j := &Judge{
		model:       model,
		completer:   c,
		sampler:     s,
		concurrency: 1,
		log:         log,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Model returns the judge model identifier.
func (j *Judge) Model() string { return j.model }

// JudgeOne critiques a single serialized conversation.
func (j *Judge) JudgeOne(ctx context.Context, conversation, chatID string) (FeedbackRecord, error) {
	resp, err := j.completer.Complete(ctx, llm.Request{
		Model:  j.model,
		System: critiqueSystemPrompt,
		User:   critiquePrompt(conversation),
	})
	if err != nil {
		return FeedbackRecord{}, fmt.Errorf("judging %s: %w", chatID, err)
	}
	return FeedbackRecord{
		ChatID:     chatID,
		Feedback:   resp.Content,
		JudgeModel: j.model,
	}, nil
}

// JudgeAll samples up to limit conversations and critiques each one. A
// conversation whose critique fails is logged and listed in Skipped; the
// rest of the batch continues. Sampling errors, sink errors and context
// cancellation abort the batch.
func (j *Judge) JudgeAll(ctx context.Context, limit int, includeEmpty bool) (Result, error) {
	records, err := j.sampler.Sample(ctx, limit, includeEmpty)
	if err != nil {
		return Result{}, fmt.Errorf("sampling conversations: %w", err)
	}
	j.log.Info("judging conversations",
		zap.Int("retrieved", len(records)),
		zap.String("model", j.model),
		zap.Int("concurrency", j.concurrency),
	)

	type slot struct {
		rec     FeedbackRecord
		skipped *Skipped
	}
	slots := make([]slot, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for i, r := range records {
		g.Go(func() error {
			j.log.Info("analyzing conversation",
				zap.Int("index", i+1),
				zap.Int("of", len(records)),
				zap.String("chat_id", r.ID),
				zap.Int("messages", chats.MessageCount(r)),
			)

			fb, err := j.judgeRecord(gctx, r)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.log.Warn("skipping conversation", zap.String("chat_id", r.ID), zap.Error(err))
				slots[i].skipped = &Skipped{ChatID: r.ID, Error: err.Error()}
				return nil
			}

			if j.sink != nil {
				if err := j.sink.Write(fb); err != nil {
					return fmt.Errorf("writing feedback for %s: %w", r.ID, err)
				}
			}
			slots[i].rec = fb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Retrieved: len(records), Records: make([]FeedbackRecord, 0, len(records))}
	for _, s := range slots {
		if s.skipped != nil {
			res.Skipped = append(res.Skipped, *s.skipped)
			continue
		}
		res.Records = append(res.Records, s.rec)
	}
	return res, nil
}

func (j *Judge) judgeRecord(ctx context.Context, r chats.Record) (FeedbackRecord, error) {
	text, err := r.Transcript()
	if err != nil {
		return FeedbackRecord{}, err
	}
	fb, err := j.JudgeOne(ctx, text, r.ID)
	if err != nil {
		return FeedbackRecord{}, err
	}
	fb.OriginalMessages = r.Messages
	if fb.OriginalMessages == nil {
		fb.OriginalMessages = []chats.Message{}
	}
	return fb, nil
}

// Consolidate summarizes the critiques in records with one more model
// call. The original messages are not sent.
func (j *Judge) Consolidate(ctx context.Context, records []FeedbackRecord) (ConsolidatedFeedback, error) {
	if len(records) == 0 {
		return ConsolidatedFeedback{}, ErrNothingToConsolidate
	}

	stripped := make([]FeedbackRecord, len(records))
	for i, r := range records {
		r.OriginalMessages = nil
		stripped[i] = r
	}
	payload, err := json.Marshal(stripped)
	if err != nil {
		return ConsolidatedFeedback{}, fmt.Errorf("serializing feedback: %w", err)
	}

	resp, err := j.completer.Complete(ctx, llm.Request{
		Model:  j.model,
		System: consolidateSystemPrompt,
		User:   consolidatePrompt(string(payload)),
	})
	if err != nil {
		return ConsolidatedFeedback{}, fmt.Errorf("consolidating feedback: %w", err)
	}

	return ConsolidatedFeedback{
		Feedback:          resp.Content,
		JudgeModel:        j.model,
		ConversationCount: len(records),
	}, nil
}
