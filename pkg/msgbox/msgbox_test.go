package msgbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"threadbox/pkg/events"
	"threadbox/pkg/lock"
	"threadbox/pkg/logger"
	"threadbox/pkg/models"
	"threadbox/pkg/msgbox"
	"threadbox/pkg/sanitize"
	"threadbox/pkg/store"
	"threadbox/pkg/tslock"
)

func init() { logger.Init() }

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) SetMilli(ms int64) {
	c.mu.Lock()
	c.now = time.UnixMilli(ms)
	c.mu.Unlock()
}

type fixture struct {
	box  *msgbox.Store
	rows *store.Pebble
	clk  *clock
}

func newFixture(t *testing.T, opts ...msgbox.Option) *fixture {
	t.Helper()
	rows, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { rows.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := &clock{now: time.UnixMilli(1000)}
	all := append([]msgbox.Option{
		msgbox.WithClock(clk.Now),
		msgbox.WithEmitter(events.NopEmitter{}),
	}, opts...)
	box := msgbox.New(
		rows,
		tslock.New(lock.NewRedisLockerWithClient(client)),
		sanitize.New(sanitize.StaticHosts{"team.example.com"}),
		all...,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		box.Tracker().AwaitIdle(ctx)
	})
	return &fixture{box: box, rows: rows, clk: clk}
}

// mustCreate pins the clock to wantTS and creates one message.
func (f *fixture) mustCreate(t *testing.T, boxID, author, body string, replyTo *int64, wantTS int64) models.Message {
	t.Helper()
	f.clk.SetMilli(wantTS)
	msg, err := f.box.CreateMessage(context.Background(), boxID, author, body, msgbox.CreateOptions{ReplyTo: replyTo})
	if err != nil {
		t.Fatalf("CreateMessage(%s, ts=%d): %v", boxID, wantTS, err)
	}
	if msg.Created != wantTS {
		t.Fatalf("Created = %d, want %d", msg.Created, wantTS)
	}
	return msg
}

func ptr(v int64) *int64 { return &v }

func TestCreateTopLevelMessage(t *testing.T) {
	f := newFixture(t)
	msg := f.mustCreate(t, "B", "alice", "hello", nil, 1000)

	if msg.ID != "B#1000" {
		t.Fatalf("ID = %q", msg.ID)
	}
	if msg.Level != 0 || msg.ReplyTo != nil {
		t.Fatalf("level=%d replyTo=%v, want top-level", msg.Level, msg.ReplyTo)
	}
	if msg.ThreadKey == "" || msg.Deleted != nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name            string
		box, author, in string
		replyTo         *int64
	}{
		{"empty box", "", "alice", "hi", nil},
		{"empty body", "B", "alice", "", nil},
		{"empty author", "B", "", "hi", nil},
		{"group author", "B", "group:eng", "hi", nil},
		{"future replyTo", "B", "alice", "hi", ptr(99999)},
		{"negative replyTo", "B", "alice", "hi", ptr(-5)},
	}
	for _, c := range cases {
		_, err := f.box.CreateMessage(ctx, c.box, c.author, c.in, msgbox.CreateOptions{ReplyTo: c.replyTo})
		if !msgbox.IsValidation(err) {
			t.Errorf("%s: got %v, want ValidationError", c.name, err)
		}
	}
}

func TestCreateReplyTargetNotFound(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "B", "alice", "root", nil, 1000)

	f.clk.SetMilli(2000)
	_, err := f.box.CreateMessage(context.Background(), "B", "bob", "reply", msgbox.CreateOptions{ReplyTo: ptr(1500)})
	if !errors.Is(err, msgbox.ErrReplyTargetNotFound) {
		t.Fatalf("got %v, want ErrReplyTargetNotFound", err)
	}
	if !errors.Is(err, msgbox.ErrNotFound) {
		t.Fatalf("ErrReplyTargetNotFound should wrap ErrNotFound")
	}
}

func TestCreateSanitizesBody(t *testing.T) {
	f := newFixture(t)
	msg := f.mustCreate(t, "B", "alice", "see http://team.example.com/pages/1", nil, 1000)
	if msg.Body != "see [/pages/1](/pages/1)" {
		t.Fatalf("body not sanitized: %q", msg.Body)
	}
}

// The §8 tree scenario: replies interleave with their ancestors, never
// trail the box.
func TestListingIsThreadOrdered(t *testing.T) {
	f := newFixture(t)
	a1 := f.mustCreate(t, "B", "alice", "A1", nil, 1000)
	a2 := f.mustCreate(t, "B", "bob", "A2", ptr(a1.Created), 1001)
	a3 := f.mustCreate(t, "B", "carol", "A3", ptr(a2.Created), 1002)
	f.mustCreate(t, "B", "dave", "A4", ptr(a1.Created), 1003)

	page, err := f.box.GetMessagesFromMessageBox(context.Background(), "B", "", 10, msgbox.ReadOptions{})
	if err != nil {
		t.Fatalf("GetMessagesFromMessageBox: %v", err)
	}
	var bodies []string
	for _, m := range page.Messages {
		bodies = append(bodies, m.Body)
	}
	want := []string{"A4", "A3", "A2", "A1"}
	if len(bodies) != 4 {
		t.Fatalf("got %d messages: %v", len(bodies), bodies)
	}
	for i := range want {
		if bodies[i] != want[i] {
			t.Fatalf("order = %v, want %v", bodies, want)
		}
	}

	got := page.Messages
	if got[1].Level != 2 || got[1].ReplyTo == nil || *got[1].ReplyTo != 1001 {
		t.Fatalf("A3: level=%d replyTo=%v", got[1].Level, got[1].ReplyTo)
	}
	if got[2].Level != 1 || got[0].Level != 1 {
		t.Fatalf("A2 level=%d, A4 level=%d, want 1 and 1", got[2].Level, got[0].Level)
	}
	if a3.Level != 2 {
		t.Fatalf("a3.Level = %d", a3.Level)
	}
}

func TestListingPagination(t *testing.T) {
	f := newFixture(t)
	for i := int64(0); i < 5; i++ {
		f.mustCreate(t, "B", "alice", "m", nil, 1000+i)
	}
	ctx := context.Background()

	var seen []int64
	start := ""
	pages := 0
	for {
		page, err := f.box.GetMessagesFromMessageBox(ctx, "B", start, 2, msgbox.ReadOptions{})
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, m := range page.Messages {
			seen = append(seen, m.Created)
		}
		pages++
		if page.Next == "" {
			break
		}
		start = page.Next
	}
	if pages != 3 || len(seen) != 5 {
		t.Fatalf("pages=%d seen=%v", pages, seen)
	}
	for i, ts := range []int64{1004, 1003, 1002, 1001, 1000} {
		if seen[i] != ts {
			t.Fatalf("seen = %v", seen)
		}
	}
}

func TestListingDefaultLimit(t *testing.T) {
	f := newFixture(t)
	for i := int64(0); i < 12; i++ {
		f.mustCreate(t, "B", "alice", "m", nil, 1000+i)
	}
	page, err := f.box.GetMessagesFromMessageBox(context.Background(), "B", "", 0, msgbox.ReadOptions{})
	if err != nil {
		t.Fatalf("GetMessagesFromMessageBox: %v", err)
	}
	if len(page.Messages) != msgbox.DefaultPageSize {
		t.Fatalf("default page size = %d, want %d", len(page.Messages), msgbox.DefaultPageSize)
	}
	if page.Next == "" {
		t.Fatal("expected continuation token")
	}
}

func TestGetMessagesPreservesPositions(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "B", "alice", "one", nil, 1000)
	f.mustCreate(t, "B", "bob", "two", nil, 1001)

	msgs, err := f.box.GetMessages(context.Background(), "B", []int64{1001, 555, 1000}, msgbox.ReadOptions{})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0] == nil || msgs[0].Body != "two" {
		t.Fatalf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1] != nil {
		t.Fatalf("missing id should give nil slot, got %+v", msgs[1])
	}
	if msgs[2] == nil || msgs[2].Body != "one" {
		t.Fatalf("msgs[2] = %+v", msgs[2])
	}
}

func TestUpdateMessageBody(t *testing.T) {
	f := newFixture(t)
	msg := f.mustCreate(t, "B", "alice", "original", nil, 1000)
	ctx := context.Background()

	f.clk.SetMilli(2000)
	err := f.box.UpdateMessageBody(ctx, "B", msg.Created, "now http://team.example.com/x")
	if err != nil {
		t.Fatalf("UpdateMessageBody: %v", err)
	}

	got, err := f.box.GetMessages(ctx, "B", []int64{msg.Created}, msgbox.ReadOptions{})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if got[0].Body != "now [/x](/x)" {
		t.Fatalf("body = %q", got[0].Body)
	}
	if got[0].ThreadKey != msg.ThreadKey || got[0].Level != msg.Level {
		t.Fatal("update must not alter thread key or level")
	}
}

func TestUpdateMessageBodyErrors(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "B", "alice", "original", nil, 1000)
	ctx := context.Background()
	f.clk.SetMilli(2000)

	if err := f.box.UpdateMessageBody(ctx, "B", 999999, "x"); !msgbox.IsValidation(err) {
		t.Fatalf("future created: got %v, want ValidationError", err)
	}
	if err := f.box.UpdateMessageBody(ctx, "B", 1500, "x"); !errors.Is(err, msgbox.ErrNotFound) {
		t.Fatalf("missing message: got %v, want ErrNotFound", err)
	}
	if err := f.box.UpdateMessageBody(ctx, "B", 1000, ""); !msgbox.IsValidation(err) {
		t.Fatalf("empty body: got %v, want ValidationError", err)
	}
}

// Concurrent creates in one reply scope must never share a timestamp.
func TestConcurrentCreateUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	created := make([]int64, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := f.box.CreateMessage(ctx, "B", "alice", "m", msgbox.CreateOptions{})
			created[i], errs[i] = msg.Created, err
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("writer %d: %v", i, errs[i])
		}
		if seen[created[i]] {
			t.Fatalf("duplicate created timestamp %d in %v", created[i], created)
		}
		seen[created[i]] = true
	}
}

func TestCreateEmitsEvent(t *testing.T) {
	em := events.NewChanEmitter(8)
	f := newFixture(t, msgbox.WithEmitter(em))
	msg := f.mustCreate(t, "B", "alice", "hello", nil, 1000)

	select {
	case ev := <-em.C:
		if ev.Kind != "createdMessage" || ev.MessageID != msg.ID {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("no event emitted")
	}
}

// failingRows drops writes whose key starts with failPrefix, simulating a
// partially failed create.
type failingRows struct {
	msgbox.RowStore
	failPrefix string
}

func (f *failingRows) Set(key string, value []byte) error {
	if len(key) >= len(f.failPrefix) && key[:len(f.failPrefix)] == f.failPrefix {
		return errors.New("injected index write failure")
	}
	return f.RowStore.Set(key, value)
}

// A failed index write leaves the message durable but invisible to
// listings; it must never produce an index entry without a row.
func TestIndexWriteFailureLeavesMessageDurable(t *testing.T) {
	rows, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer rows.Close()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clk := &clock{now: time.UnixMilli(1000)}
	box := msgbox.New(
		&failingRows{RowStore: rows, failPrefix: "box:"},
		tslock.New(lock.NewRedisLockerWithClient(client)),
		sanitize.New(sanitize.StaticHosts{}),
		msgbox.WithClock(clk.Now),
		msgbox.WithEmitter(events.NopEmitter{}),
	)
	ctx := context.Background()

	msg, err := box.CreateMessage(ctx, "B", "alice", "hello", msgbox.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := box.GetMessagesByID(ctx, []string{msg.ID}, msgbox.ReadOptions{})
	if err != nil || got[0] == nil {
		t.Fatalf("message row should be durable: %v, %v", got, err)
	}
	page, err := box.GetMessagesFromMessageBox(ctx, "B", "", 10, msgbox.ReadOptions{})
	if err != nil {
		t.Fatalf("GetMessagesFromMessageBox: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("unindexed message leaked into listing: %+v", page.Messages)
	}
	box.Tracker().AwaitIdle(ctx)
}

func TestRecentContributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, "B", "alice", "m", nil, 1000)
	f.mustCreate(t, "B", "bob", "m", nil, 1001)
	f.mustCreate(t, "B", "carol", "m", nil, 1002)
	f.mustCreate(t, "B", "alice", "m", nil, 1003) // alice again, moves up

	if err := f.box.Tracker().AwaitIdle(ctx); err != nil {
		t.Fatalf("AwaitIdle: %v", err)
	}

	got, err := f.box.GetRecentContributions(ctx, "B", "", 0)
	if err != nil {
		t.Fatalf("GetRecentContributions: %v", err)
	}
	want := []string{"alice", "carol", "bob"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	// paging: resume after carol
	rest, err := f.box.GetRecentContributions(ctx, "B", "carol", 5)
	if err != nil {
		t.Fatalf("GetRecentContributions page 2: %v", err)
	}
	if len(rest) != 1 || rest[0] != "bob" {
		t.Fatalf("rest = %v", rest)
	}

	// limit
	top, err := f.box.GetRecentContributions(ctx, "B", "", 1)
	if err != nil {
		t.Fatalf("GetRecentContributions limit: %v", err)
	}
	if len(top) != 1 || top[0] != "alice" {
		t.Fatalf("top = %v", top)
	}
}
