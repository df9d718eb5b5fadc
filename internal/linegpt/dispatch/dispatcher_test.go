package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/linegpt/common/spec/envelope"
	"github.com/bdobrica/linegpt/internal/linegpt/dispatch"
	"github.com/bdobrica/linegpt/internal/linegpt/llm"
	"github.com/bdobrica/linegpt/internal/linegpt/notify"
	"github.com/bdobrica/linegpt/internal/linegpt/pipeline"
)

type fakeProcessor struct {
	result *pipeline.Result
	err    error
	calls  int
}

func (f *fakeProcessor) ProcessText(_ context.Context, _ *envelope.LineEvent) (*pipeline.Result, error) {
	f.calls++
	return f.result, f.err
}

type sentReply struct {
	token, text, pkg, sticker string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []sentReply
	err     error
}

func (f *fakeReplier) ReplyText(_ context.Context, token, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{token: token, text: text})
	return f.err
}

func (f *fakeReplier) ReplySticker(_ context.Context, token, pkg, sticker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{token: token, pkg: pkg, sticker: sticker})
	return f.err
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Notify(_ context.Context, evt notify.Event) { f.events = append(f.events, evt) }

func env(t envelope.EventType, text string) *envelope.Envelope {
	ev := &envelope.LineEvent{
		Type:       "message",
		ReplyToken: "rt",
		Source:     &envelope.Source{Type: "user", UserID: "Ua1b2c3d4e5f60718293a4b5c6d7e8f90"},
	}
	if text != "" {
		ev.Message = &envelope.Message{Type: "text", Text: text}
	}
	return &envelope.Envelope{EventType: t, LineEvent: ev}
}

func TestHandle_TextReply(t *testing.T) {
	proc := &fakeProcessor{result: &pipeline.Result{Outcome: pipeline.OutcomeSuccess, ReplyText: "Hello!"}}
	rep := &fakeReplier{}
	d := dispatch.New(proc, rep, nil, dispatch.Config{})

	if err := d.Handle(context.Background(), env(envelope.TypeTextMessage, "Hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rep.replies) != 1 || rep.replies[0] != (sentReply{token: "rt", text: "Hello!"}) {
		t.Fatalf("unexpected replies: %+v", rep.replies)
	}
}

func TestHandle_NotSentDoesNotReply(t *testing.T) {
	proc := &fakeProcessor{result: &pipeline.Result{Outcome: pipeline.OutcomeNotSent}}
	rep := &fakeReplier{}
	d := dispatch.New(proc, rep, nil, dispatch.Config{})

	if err := d.Handle(context.Background(), env(envelope.TypeTextMessage, "Hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rep.replies) != 0 {
		t.Fatalf("expected no reply, got %+v", rep.replies)
	}
}

func TestHandle_TimeoutRepliesAndNotifies(t *testing.T) {
	proc := &fakeProcessor{result: &pipeline.Result{
		Outcome:   pipeline.OutcomeTimeout,
		ReplyText: "The OpenAI API request has timed out.",
		Err:       &llm.TimeoutError{Timeout: 10 * time.Second},
	}}
	rep := &fakeReplier{}
	n := &fakeNotifier{}
	d := dispatch.New(proc, rep, n, dispatch.Config{})

	if err := d.Handle(context.Background(), env(envelope.TypeTextMessage, "Hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rep.replies) != 1 || rep.replies[0].text != "The OpenAI API request has timed out." {
		t.Fatalf("unexpected replies: %+v", rep.replies)
	}
	if len(n.events) != 1 || n.events[0].Kind != notify.KindLLMTimeout {
		t.Fatalf("unexpected notices: %+v", n.events)
	}
}

func TestHandle_ProcessorErrorPropagates(t *testing.T) {
	boom := errors.New("disk full")
	proc := &fakeProcessor{err: boom}
	rep := &fakeReplier{}
	d := dispatch.New(proc, rep, nil, dispatch.Config{})

	err := d.Handle(context.Background(), env(envelope.TypeTextMessage, "Hi"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if len(rep.replies) != 0 {
		t.Fatalf("expected no reply, got %+v", rep.replies)
	}
}

func TestHandle_ReplyFailureIsNotified(t *testing.T) {
	proc := &fakeProcessor{result: &pipeline.Result{Outcome: pipeline.OutcomeSuccess, ReplyText: "Hello!"}}
	rep := &fakeReplier{err: errors.New("invalid reply token")}
	n := &fakeNotifier{}
	d := dispatch.New(proc, rep, n, dispatch.Config{})

	if err := d.Handle(context.Background(), env(envelope.TypeTextMessage, "Hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(n.events) != 1 || n.events[0].Kind != notify.KindReplyFailed {
		t.Fatalf("unexpected notices: %+v", n.events)
	}
}

func TestHandle_NonTextGetsSticker(t *testing.T) {
	for _, typ := range []envelope.EventType{
		envelope.TypeImageMessage, envelope.TypeVideoMessage, envelope.TypeAudioMessage,
		envelope.TypeLocationMessage, envelope.TypeStickerMessage, envelope.TypeFileMessage,
	} {
		t.Run(string(typ), func(t *testing.T) {
			proc := &fakeProcessor{}
			rep := &fakeReplier{}
			d := dispatch.New(proc, rep, nil, dispatch.Config{StickerDelay: time.Millisecond})

			if err := d.Handle(context.Background(), env(typ, "")); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if proc.calls != 0 {
				t.Error("text processor must not run")
			}
			want := sentReply{token: "rt", pkg: "11538", sticker: "51626499"}
			if len(rep.replies) != 1 || rep.replies[0] != want {
				t.Fatalf("unexpected replies: %+v", rep.replies)
			}
		})
	}
}

func TestHandle_StickerDelayHonoursCancellation(t *testing.T) {
	rep := &fakeReplier{}
	d := dispatch.New(&fakeProcessor{}, rep, nil, dispatch.Config{StickerDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Handle(ctx, env(envelope.TypeImageMessage, ""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rep.replies) != 0 {
		t.Fatalf("expected no reply, got %+v", rep.replies)
	}
}

func TestHandle_LifecycleAndUnknownAreIgnored(t *testing.T) {
	for _, typ := range []envelope.EventType{
		envelope.TypeFollow, envelope.TypeUnfollow, envelope.TypeJoin, envelope.TypeLeave,
		envelope.TypeMemberJoined, envelope.TypeMemberLeft, "beacon",
	} {
		proc := &fakeProcessor{}
		rep := &fakeReplier{}
		d := dispatch.New(proc, rep, nil, dispatch.Config{})
		if err := d.Handle(context.Background(), env(typ, "")); err != nil {
			t.Fatalf("%s: Handle: %v", typ, err)
		}
		if proc.calls != 0 || len(rep.replies) != 0 {
			t.Errorf("%s: expected no action", typ)
		}
	}
}

func TestHandle_InvalidEnvelope(t *testing.T) {
	d := dispatch.New(&fakeProcessor{}, &fakeReplier{}, nil, dispatch.Config{})
	if err := d.Handle(context.Background(), &envelope.Envelope{EventType: envelope.TypeTextMessage}); err == nil {
		t.Fatal("expected error for envelope without line_event")
	}
}
