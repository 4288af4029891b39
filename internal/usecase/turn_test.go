package usecase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interview-agent/internal/domain"
	"interview-agent/internal/integrations/assistant"
	"interview-agent/internal/store"
)

type fakeAssistant struct {
	streamBody string
	streamErr  error
	streamFn   func(ctx context.Context) (io.ReadCloser, error)
	chatAnswer string
	chatErr    error

	streamCalls  int
	chatCalls    int
	gotModel     string
	gotChatModel string
	gotMessages  []domain.ChatMessage
}

func (f *fakeAssistant) StreamChat(ctx context.Context, model string, messages []domain.ChatMessage, _ float64, _ int) (io.ReadCloser, error) {
	f.streamCalls++
	f.gotModel = model
	f.gotMessages = messages
	if f.streamFn != nil {
		return f.streamFn(ctx)
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func (f *fakeAssistant) Chat(_ context.Context, model string, _ []domain.ChatMessage, _ float64, _ int) (string, error) {
	f.chatCalls++
	f.gotChatModel = model
	return f.chatAnswer, f.chatErr
}

type fakeInterview struct {
	questions    []domain.Question
	questionsErr error
	grade        domain.Grade
	gradeErr     error
	gradeFn      func(ctx context.Context) (domain.Grade, error)

	gotYears    int
	gotLanguage string
	gotQuestion string
	gotAnswer   string
	gradeCalls  int
}

func (f *fakeInterview) Questions(_ context.Context, years int, language string) ([]domain.Question, error) {
	f.gotYears = years
	f.gotLanguage = language
	return f.questions, f.questionsErr
}

func (f *fakeInterview) Grade(ctx context.Context, question, answer string) (domain.Grade, error) {
	f.gradeCalls++
	f.gotQuestion = question
	f.gotAnswer = answer
	if f.gradeFn != nil {
		return f.gradeFn(ctx)
	}
	return f.grade, f.gradeErr
}

type fakeArchiver struct {
	err error

	calls       int
	gotConvID   string
	gotIndex    int
	gotQuestion domain.Question
	gotAnswered int
}

func (f *fakeArchiver) SaveGradedAnswer(_ context.Context, conversationID string, index int, q domain.Question, answered int) error {
	f.calls++
	f.gotConvID = conversationID
	f.gotIndex = index
	f.gotQuestion = q
	f.gotAnswered = answered
	return f.err
}

type testEnv struct {
	store     *store.Store
	assistant *fakeAssistant
	interview *fakeInterview
	archive   *fakeArchiver
	events    *Broadcaster
	svc       *Service
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	e := &testEnv{
		store:     store.New(),
		assistant: &fakeAssistant{streamBody: `{"model":"gpt-4"}Hello there`, chatAnswer: "mock title"},
		interview: &fakeInterview{},
		archive:   &fakeArchiver{},
		events:    NewBroadcaster(nil),
	}
	opts = append([]Option{WithArchiver(e.archive), WithEvents(e.events)}, opts...)
	svc, err := NewService(e.store, e.assistant, e.interview, opts...)
	require.NoError(t, err)
	e.svc = svc
	return e
}

func (e *testEnv) subscribe(t *testing.T, conversationID string) <-chan Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, _ := e.events.Subscribe(ctx, conversationID)
	return ch
}

func expectEvent(t *testing.T, ch <-chan Event, evtType EventType) Event {
	t.Helper()
	select {
	case evt := <-ch:
		require.Equal(t, evtType, evt.Type)
		return evt
	case <-time.After(time.Second):
		t.Fatalf("no %s event received", evtType)
		return Event{}
	}
}

func expectTurnError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewService_ValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, &fakeAssistant{}, &fakeInterview{})
	require.Error(t, err)

	_, err = NewService(store.New(), nil, &fakeInterview{})
	require.Error(t, err)

	_, err = NewService(store.New(), &fakeAssistant{}, nil)
	require.Error(t, err)
}

func TestCreateConversation_Defaults(t *testing.T) {
	e := newTestEnv(t)

	conv, err := e.svc.CreateConversation("", "")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultLevelID, conv.ModelID)
	require.Equal(t, domain.DefaultPurposeID, conv.PurposeID)
}

func TestCreateConversation_Validation(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.CreateConversation("principal-architect", "")
	expectTurnError(t, err, ErrorInvalidInput, "unknown_level")

	_, err = e.svc.CreateConversation("", "Wizard")
	expectTurnError(t, err, ErrorInvalidInput, "unknown_purpose")
}

func TestRunChat_HappyPath(t *testing.T) {
	e := newTestEnv(t)
	conv, err := e.svc.CreateConversation("engineer", "Developer")
	require.NoError(t, err)
	ch := e.subscribe(t, conv.ID)

	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "What is a goroutine?"))

	got, ok := e.svc.Conversation(conv.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 3)
	require.Equal(t, domain.RoleSystem, got.Messages[0].Role)
	require.Equal(t, "What is a goroutine?", got.Messages[1].Text)

	reply := got.Messages[2]
	require.Equal(t, domain.RoleAssistant, reply.Role)
	require.Equal(t, "Hello there", reply.Text)
	require.Equal(t, "gpt-4", reply.OriginModel)
	require.False(t, reply.Typing)
	require.False(t, e.store.Typing(conv.ID))

	require.Equal(t, "engineer", e.assistant.gotModel)
	require.Len(t, e.assistant.gotMessages, 2, "placeholder must not be sent upstream")

	expectEvent(t, ch, TurnCompleted)
}

func TestRunChat_BlankUserTextNotAppended(t *testing.T) {
	e := newTestEnv(t)
	conv, _ := e.svc.CreateConversation("", "")

	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "   "))

	got, _ := e.svc.Conversation(conv.ID)
	require.Len(t, got.Messages, 2)
	require.Equal(t, domain.RoleSystem, got.Messages[0].Role)
	require.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
}

func TestRunChat_UnknownConversation(t *testing.T) {
	e := newTestEnv(t)
	err := e.svc.RunChat(context.Background(), "nope", "hi")
	expectTurnError(t, err, ErrorInvalidInput, "unknown_conversation")
}

func TestRunChat_TurnActiveGuard(t *testing.T) {
	e := newTestEnv(t)
	conv, _ := e.svc.CreateConversation("", "")

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.store.StartTyping(conv.ID, cancel)

	err := e.svc.RunChat(context.Background(), conv.ID, "hi")
	expectTurnError(t, err, ErrorTurnActive, "turn_in_flight")
	require.Zero(t, e.assistant.streamCalls)
}

func TestRunChat_RequestFailure(t *testing.T) {
	e := newTestEnv(t)
	e.assistant.streamErr = &assistant.HTTPStatusError{StatusCode: http.StatusInternalServerError}
	conv, _ := e.svc.CreateConversation("", "")
	ch := e.subscribe(t, conv.ID)

	err := e.svc.RunChat(context.Background(), conv.ID, "hi")
	expectTurnError(t, err, ErrorUpstream, "chat_request_error")

	got, _ := e.svc.Conversation(conv.ID)
	reply := got.Messages[len(got.Messages)-1]
	require.Equal(t, "Error: the assistant request failed.", reply.Text)
	require.False(t, reply.Typing)
	require.False(t, e.store.Typing(conv.ID))

	evt := expectEvent(t, ch, TurnFailed)
	require.Equal(t, ErrorUpstream, evt.Code)
	require.Equal(t, "chat_request_error", evt.Reason)
}

func TestRunChat_RateLimited(t *testing.T) {
	e := newTestEnv(t)
	e.assistant.streamErr = &assistant.HTTPStatusError{StatusCode: http.StatusTooManyRequests}
	conv, _ := e.svc.CreateConversation("", "")

	err := e.svc.RunChat(context.Background(), conv.ID, "hi")
	expectTurnError(t, err, ErrorRateLimited, "chat_request_error")
}

// cancellingReader emits one chunk, then aborts its own turn and waits for
// the stream context to observe the cancellation.
type cancellingReader struct {
	ctx    context.Context
	cancel func()
	chunk  []byte
	sent   bool
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.chunk), nil
	}
	r.cancel()
	<-r.ctx.Done()
	return 0, nil
}

func (r *cancellingReader) Close() error { return nil }

func TestRunChat_CancellationKeepsPartialText(t *testing.T) {
	e := newTestEnv(t)
	conv, _ := e.svc.CreateConversation("", "")
	ch := e.subscribe(t, conv.ID)

	e.assistant.streamFn = func(ctx context.Context) (io.ReadCloser, error) {
		return &cancellingReader{
			ctx:    ctx,
			cancel: func() { e.svc.Cancel(conv.ID) },
			chunk:  []byte(`{"model":"gpt-4"}partial answer`),
		}, nil
	}

	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "hi"))

	got, _ := e.svc.Conversation(conv.ID)
	reply := got.Messages[len(got.Messages)-1]
	require.Equal(t, "partial answer", reply.Text)
	require.False(t, reply.Typing)
	require.False(t, e.store.Typing(conv.ID))

	expectEvent(t, ch, TurnCancelled)
	require.Zero(t, e.assistant.chatCalls, "no title call after a cancelled turn")
}

func TestRunChat_FirstParagraphSpeaker(t *testing.T) {
	var spoken []string
	e := newTestEnv(t,
		WithSpeaker(func(text string) { spoken = append(spoken, text) }),
		WithParagraphWindow(10, 100),
	)
	e.assistant.streamFn = func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(
			strings.NewReader(`{"model":"gpt-4"}`),
			strings.NewReader("First paragraph of the answer.\n"),
			strings.NewReader("And then some more text.\n"),
		)), nil
	}
	conv, _ := e.svc.CreateConversation("", "")

	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "hi"))
	require.Equal(t, []string{"First paragraph of the answer."}, spoken)
}

func TestRunChat_AutoTitle(t *testing.T) {
	e := newTestEnv(t)
	e.assistant.chatAnswer = `"Title: go interview prep"`
	conv, _ := e.svc.CreateConversation("", "")

	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "hi"))
	require.Equal(t, 1, e.assistant.chatCalls)
	require.Equal(t, domain.FastLevelID, e.assistant.gotChatModel)

	got, _ := e.svc.Conversation(conv.ID)
	require.Equal(t, "go interview prep", got.AutoTitle)

	// a second turn must not re-title
	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "again"))
	require.Equal(t, 1, e.assistant.chatCalls)
}

func TestRunChat_AutoTitleFailureDoesNotFailTurn(t *testing.T) {
	e := newTestEnv(t)
	e.assistant.chatErr = &assistant.HTTPStatusError{StatusCode: http.StatusInternalServerError}
	conv, _ := e.svc.CreateConversation("", "")

	require.NoError(t, e.svc.RunChat(context.Background(), conv.ID, "hi"))

	got, _ := e.svc.Conversation(conv.ID)
	require.Empty(t, got.AutoTitle)
}

func TestSpliceSystemMessage_RebuildsFromPurpose(t *testing.T) {
	e := newTestEnv(t)
	conv, _ := e.svc.CreateConversation("", "Developer")

	user := domain.NewMessage(domain.RoleUser, "hi")
	sys := domain.NewMessage(domain.RoleSystem, "stale prompt")
	e.store.SetMessages(conv.ID, []domain.Message{user, sys})

	history := e.svc.spliceSystemMessage(conv.ID, "Developer", []domain.Message{user, sys})
	require.Equal(t, domain.RoleSystem, history[0].Role)
	require.Equal(t, "Python", history[0].Text)
	require.Equal(t, "hi", history[1].Text)

	got, _ := e.svc.Conversation(conv.ID)
	require.Equal(t, domain.RoleSystem, got.Messages[0].Role)
}

func TestSpliceSystemMessage_KeepsUserEditedPrompt(t *testing.T) {
	e := newTestEnv(t)
	conv, _ := e.svc.CreateConversation("", "")

	sys := domain.NewMessage(domain.RoleSystem, "my custom prompt")
	sys.Updated = time.Now().UTC()
	user := domain.NewMessage(domain.RoleUser, "hi")

	history := e.svc.spliceSystemMessage(conv.ID, "Generic", []domain.Message{user, sys})
	require.Equal(t, "my custom prompt", history[0].Text)
}

func TestSpliceSystemMessage_InsertsWhenMissing(t *testing.T) {
	e := newTestEnv(t)
	conv, _ := e.svc.CreateConversation("", "")

	user := domain.NewMessage(domain.RoleUser, "hi")
	history := e.svc.spliceSystemMessage(conv.ID, "Generic", []domain.Message{user})
	require.Len(t, history, 2)
	require.Equal(t, domain.RoleSystem, history[0].Role)
	require.Equal(t, "PHP", history[0].Text)
}

func TestUpstreamCode(t *testing.T) {
	require.Equal(t, ErrorRateLimited, upstreamCode(&assistant.HTTPStatusError{StatusCode: 429}))
	require.Equal(t, ErrorUpstream, upstreamCode(&assistant.HTTPStatusError{StatusCode: 500}))
	require.Equal(t, ErrorUpstream, upstreamCode(io.ErrUnexpectedEOF))
}

func TestCleanTitle(t *testing.T) {
	require.Equal(t, "go interview prep", cleanTitle(` "Title: go interview prep" `))
	require.Equal(t, "short title", cleanTitle("title: short title"))
	require.Equal(t, "plain", cleanTitle("plain"))
	require.Empty(t, cleanTitle(`""`))
}

func TestTitlePrompt(t *testing.T) {
	long := strings.Repeat("x", 60)
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Text: "ignored"},
		{Role: domain.RoleUser, Text: "first line\nsecond line"},
		{Role: domain.RoleAssistant, Text: long},
	}

	prompt := titlePrompt(msgs)
	require.Len(t, prompt, 2)
	require.Contains(t, prompt[1].Content, "- You: first line")
	require.NotContains(t, prompt[1].Content, "second line")
	require.Contains(t, prompt[1].Content, "- Assistant: "+long[:50]+"...")
	require.NotContains(t, prompt[1].Content, "ignored")
}

func TestTitlePrompt_WindowsRecentMessages(t *testing.T) {
	var msgs []domain.Message
	for _, text := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Text: text})
	}

	prompt := titlePrompt(msgs)
	require.NotContains(t, prompt[1].Content, "m1")
	require.NotContains(t, prompt[1].Content, "m2")
	require.Contains(t, prompt[1].Content, "m3")
	require.Contains(t, prompt[1].Content, "m7")
}

func gradeOf(score, description string) domain.Grade {
	return domain.Grade{Score: json.Number(score), Description: description}
}
