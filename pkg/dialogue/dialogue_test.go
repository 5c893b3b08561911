package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/deploybot/pkg/catalog"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
	"github.com/3leaps/deploybot/pkg/session"
	"github.com/3leaps/deploybot/pkg/shortref"
)

const (
	testChat = int64(100)
	testUser = int64(7)
)

type sentMessage struct {
	chatID int64
	id     int
	msg    chat.OutgoingMessage
}

type editedMessage struct {
	chatID int64
	id     int
	msg    chat.OutgoingMessage
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   []editedMessage
	answers []string
	deleted []int
	sendErr error
	delErr  error
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, msg chat.OutgoingMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, id: f.nextID, msg: msg})
	return f.nextID, nil
}

func (f *fakeTransport) Edit(_ context.Context, chatID int64, messageID int, msg chat.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{chatID: chatID, id: messageID, msg: msg})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, callbackID string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID)
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) lastEdit(t *testing.T) editedMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits)
	return f.edits[len(f.edits)-1]
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.msg.Text)
	}
	return out
}

// fakeCatalog serves a fixed tree:
//
//	Team-A/build-service
//	Team-A/web/deploy-web
//	Team-A/web/deploy-api
//	Team-B/worker
//	Team-B/ops/deploy-db
type fakeCatalog struct {
	err error
}

var sampleJobs = map[string][]string{
	"Team-A": {"Team-A/build-service", "Team-A/web/deploy-api", "Team-A/web/deploy-web"},
	"Team-B": {"Team-B/ops/deploy-db", "Team-B/worker"},
}

func (f *fakeCatalog) Children(_ context.Context, path string) ([]catalog.Folder, []catalog.Job, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if path != "" {
		return nil, nil, nil
	}
	return []catalog.Folder{{Name: "Team-A", Path: "Team-A"}, {Name: "Team-B", Path: "Team-B"}}, nil, nil
}

func (f *fakeCatalog) ListLeafJobs(_ context.Context, root string) ([]catalog.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []catalog.Job
	for _, p := range sampleJobs[root] {
		out = append(out, catalog.Job{Name: jenkins.BaseName(p), Path: p})
	}
	return out, nil
}

type fakeSearcher struct {
	result  *catalog.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, _ []string, query string, progress chan<- catalog.Progress) (*catalog.Result, error) {
	f.queries = append(f.queries, query)
	if progress != nil {
		progress <- catalog.Progress{Processed: 1, Total: 3}
	}
	res := *f.result
	res.Query = query
	return &res, f.err
}

type triggerCall struct {
	path      string
	creds     jenkins.Credentials
	parameter string
}

type fakeDeployer struct {
	mu    sync.Mutex
	calls []triggerCall
	fail  bool
}

func (f *fakeDeployer) Trigger(_ context.Context, path string, creds jenkins.Credentials, parameter string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, triggerCall{path: path, creds: creds, parameter: parameter})
	return !f.fail
}

type fakeWatcher struct {
	watched map[string]int64
}

func (f *fakeWatcher) Watch(path string, chatID int64) {
	if f.watched == nil {
		f.watched = make(map[string]int64)
	}
	f.watched[path] = chatID
}

type harness struct {
	ctl       *Controller
	transport *fakeTransport
	catalog   *fakeCatalog
	searcher  *fakeSearcher
	store     *jobstore.Store
	deployer  *fakeDeployer
	watcher   *fakeWatcher
	sessions  *session.Registry
	refs      *shortref.Map
	now       time.Time
	nextCB    int
}

func newHarness(t *testing.T, cfg Config, roles map[string]jenkins.Credentials) *harness {
	t.Helper()

	store, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if roles == nil {
		roles = map[string]jenkins.Credentials{"dev": {User: "ci-dev", Token: "secret"}}
	}

	h := &harness{
		transport: &fakeTransport{},
		catalog:   &fakeCatalog{},
		searcher:  &fakeSearcher{result: &catalog.Result{}},
		store:     store,
		deployer:  &fakeDeployer{},
		watcher:   &fakeWatcher{},
		sessions:  session.NewRegistry(),
		refs:      shortref.New(shortref.DefaultConfig()),
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.Now = func() time.Time { return h.now }

	h.ctl = New(Deps{
		Transport:   h.transport,
		Sessions:    h.sessions,
		Refs:        h.refs,
		Catalog:     h.catalog,
		Searcher:    h.searcher,
		Store:       store,
		Deployer:    h.deployer,
		Credentials: deploy.NewResolver(store, roles, "dev"),
		Watcher:     h.watcher,
	}, cfg, nil)
	return h
}

func (h *harness) say(text string) {
	h.ctl.HandleUpdate(context.Background(), chat.Update{Message: &chat.Message{
		ChatID: testChat,
		UserID: testUser,
		Text:   text,
	}})
}

// press finds the button labelled label in msg and delivers its callback.
func (h *harness) press(t *testing.T, messageID int, msg chat.OutgoingMessage, label string) {
	t.Helper()
	data := findButton(t, msg, label)
	h.pressData(messageID, data)
}

func (h *harness) pressData(messageID int, data string) {
	h.nextCB++
	h.ctl.HandleUpdate(context.Background(), chat.Update{Callback: &chat.Callback{
		ID:        "cb-" + strings.Repeat("x", h.nextCB),
		ChatID:    testChat,
		UserID:    testUser,
		MessageID: messageID,
		Data:      data,
	}})
}

// buttonRef builds job button data for path as rendered into messageID.
func (h *harness) buttonRef(t *testing.T, prefix string, messageID int, id int64, path string) string {
	t.Helper()
	token, err := h.refs.Intern(chat.MessageScope(testChat, messageID), path)
	require.NoError(t, err)
	return fmt.Sprintf("%s%d_%s", prefix, id, token)
}

// reassignID hands id to path as if the id had been recycled.
func (h *harness) reassignID(t *testing.T, id int64, path string) {
	t.Helper()
	db := h.store.DB()
	_, err := db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO jobs (id, name, url, owner_user_id, chat_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, jenkins.BaseName(path), path, testUser, testChat, "2026-03-01T09:00:00Z")
	require.NoError(t, err)
}

func findButton(t *testing.T, msg chat.OutgoingMessage, label string) string {
	t.Helper()
	for _, row := range msg.Keyboard {
		for _, b := range row {
			if strings.Contains(b.Label, label) {
				return b.Data
			}
		}
	}
	require.Failf(t, "button not found", "no button %q in %+v", label, msg.Keyboard)
	return ""
}

func hasButton(msg chat.OutgoingMessage, label string) bool {
	for _, row := range msg.Keyboard {
		for _, b := range row {
			if strings.Contains(b.Label, label) {
				return true
			}
		}
	}
	return false
}
