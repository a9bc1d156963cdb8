package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "auth.token.revoked" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (f handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

func TestConsumeClaimMarksOnlyHandledMessages(t *testing.T) {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3}
	close(claim.messages)

	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, msg *sarama.ConsumerMessage) error {
			if msg.Offset == 2 {
				return errors.New("bad message")
			}
			return nil
		}),
		logger: zaptest.NewLogger(t),
	}

	session := &fakeSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(session.marked) != 2 || session.marked[0] != 1 || session.marked[1] != 3 {
		t.Fatalf("unexpected marked offsets %v", session.marked)
	}
}

type fakeGroup struct {
	calls  int
	closed bool
	err    error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.calls++
	if g.err != nil {
		return g.err
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return nil }
func (g *fakeGroup) Close() error {
	g.closed = true
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32) {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll() {}
func (g *fakeGroup) ResumeAll() {}

func TestConsumeStopsOnContextCancel(t *testing.T) {
	group := &fakeGroup{}
	consumer := newConsumer(group, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := consumer.Consume(ctx, []string{"auth.token.revoked"}, handlerFunc(func(context.Context, *sarama.ConsumerMessage) error { return nil }))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if group.calls != 1 {
		t.Fatalf("expected one consume call, got %d", group.calls)
	}

	if err := consumer.Close(); err != nil || !group.closed {
		t.Fatalf("expected group to be closed")
	}
}

func TestConsumeReturnsNilWhenGroupClosed(t *testing.T) {
	consumer := newConsumer(&fakeGroup{err: sarama.ErrClosedConsumerGroup}, zaptest.NewLogger(t))

	err := consumer.Consume(context.Background(), []string{"t"}, handlerFunc(func(context.Context, *sarama.ConsumerMessage) error { return nil }))
	if err != nil {
		t.Fatalf("expected nil after group close, got %v", err)
	}
}

func TestConsumeRequiresHandler(t *testing.T) {
	consumer := newConsumer(&fakeGroup{}, zaptest.NewLogger(t))
	if err := consumer.Consume(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error without handler")
	}
}
