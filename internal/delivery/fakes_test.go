package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/blob"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

// fakeMessages is an in-memory MessageStore mirroring the repository's
// query semantics.
type fakeMessages struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]*model.Message
	seq  int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: make(map[primitive.ObjectID]*model.Message)}
}

func (f *fakeMessages) Create(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = primitive.NewObjectID()
	f.seq++
	msg.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	msg.UpdatedAt = msg.CreatedAt
	if msg.Attachments == nil {
		msg.Attachments = []model.Attachment{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []primitive.ObjectID{}
	}
	cp := *msg
	f.byID[msg.ID] = &cp
	return nil
}

func (f *fakeMessages) FindDuplicate(ctx context.Context, sender, chat primitive.ObjectID, content string, fileIDs []string, window time.Duration) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make(map[string]bool)
	for _, id := range fileIDs {
		if id != "" && id != model.PendingFileID {
			stored[id] = true
		}
	}
	cutoff := time.Now().Add(-window)
	var best *model.Message
	for _, m := range f.byID {
		if m.Sender != sender || m.Chat != chat || m.CreatedAt.Before(cutoff) {
			continue
		}
		if content != "" && m.Content != content {
			continue
		}
		if len(stored) > 0 {
			match := false
			for _, a := range m.Attachments {
				if stored[a.FileID] {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeMessages) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) GetStructured(ctx context.Context, id primitive.ObjectID) (*model.Message, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeMessages) Update(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[msg.ID]
	if !ok {
		return repository.ErrNotFound
	}
	m.Content = msg.Content
	m.Attachments = msg.Attachments
	m.Status = msg.Status
	m.UpdatedAt = time.Now()
	return nil
}

func (f *fakeMessages) UpdateStatus(ctx context.Context, id primitive.ObjectID, next model.MessageStatus, reader primitive.ObjectID) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Mirrors the filtered update: the status only changes while the stored
	// value is a predecessor of next.
	for _, p := range next.Predecessors() {
		if m.Status == p {
			m.Status = next
			break
		}
	}
	if next == model.StatusRead && !reader.IsZero() && !m.ReadByUser(reader) {
		m.ReadBy = append(m.ReadBy, reader)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) MarkChatRead(ctx context.Context, chat, reader primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := false
	for _, m := range f.byID {
		if m.Chat != chat || m.Sender == reader || m.ReadByUser(reader) {
			continue
		}
		m.Status = model.StatusRead
		m.ReadBy = append(m.ReadBy, reader)
		changed = true
	}
	return changed, nil
}

func (f *fakeMessages) ListByChat(ctx context.Context, chat primitive.ObjectID) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.byID {
		if m.Chat == chat {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeMessages) LastMessage(ctx context.Context, chat primitive.ObjectID) (*model.Message, error) {
	msgs, _ := f.ListByChat(ctx, chat)
	if len(msgs) == 0 {
		return nil, nil
	}
	cp := msgs[len(msgs)-1]
	return &cp, nil
}

func (f *fakeMessages) DeleteByID(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeMessages) DeleteAllOfChat(ctx context.Context, chat primitive.ObjectID) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for id, m := range f.byID {
		if m.Chat == chat {
			out = append(out, *m)
			delete(f.byID, id)
		}
	}
	return out, nil
}

type fakeChats struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]*model.Chat
}

func newFakeChats(chats ...*model.Chat) *fakeChats {
	f := &fakeChats{byID: make(map[primitive.ObjectID]*model.Chat)}
	for _, c := range chats {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeChats) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChats) SetLastMessage(ctx context.Context, chatID primitive.ObjectID, messageID *primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastMessage = messageID
	return nil
}

// fakeBlobs deduplicates on content like the GridFS store and can be told to
// fail specific file names.
type fakeBlobs struct {
	mu      sync.Mutex
	byHash  map[string]*blob.FileInfo
	fail    map[string]bool
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{byHash: make(map[string]*blob.FileInfo), fail: make(map[string]bool)}
}

func (f *fakeBlobs) Put(ctx context.Context, name, mimeType, uploaderID string, data []byte) (*blob.FileInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return nil, false, fmt.Errorf("storage unavailable for %s", name)
	}
	hash := blob.HashContent(data)
	if existing, ok := f.byHash[hash]; ok {
		return existing, true, nil
	}
	info := &blob.FileInfo{
		ID:          primitive.NewObjectID().Hex(),
		Name:        name,
		Size:        int64(len(data)),
		MimeType:    mimeType,
		ContentHash: hash,
		UploadedAt:  time.Now(),
	}
	f.byHash[hash] = info
	return info, false, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, fileID)
	for hash, info := range f.byHash {
		if info.ID == fileID {
			delete(f.byHash, hash)
		}
	}
	return nil
}

// fakeEmitter records every event per recipient.
type fakeEmitter struct {
	mu     sync.Mutex
	byUser map[string][]events.Event
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{byUser: make(map[string][]events.Event)}
}

func (f *fakeEmitter) EmitToUser(userID string, ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser[userID] = append(f.byUser[userID], ev)
}

func (f *fakeEmitter) eventsFor(userID string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.byUser[userID]...)
}

func (f *fakeEmitter) typesFor(userID string) []events.Type {
	var out []events.Type
	for _, ev := range f.eventsFor(userID) {
		out = append(out, ev.Type)
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser = make(map[string][]events.Event)
}

// testWorld bundles the service with its fakes and a two-person chat.
type testWorld struct {
	svc      *Service
	messages *fakeMessages
	chats    *fakeChats
	blobs    *fakeBlobs
	emitter  *fakeEmitter

	alice primitive.ObjectID
	bob   primitive.ObjectID
	chat  *model.Chat
}

func newTestWorld() *testWorld {
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()
	chat := &model.Chat{
		ID:           primitive.NewObjectID(),
		Name:         "alice-bob",
		Participants: []primitive.ObjectID{alice, bob},
	}
	w := &testWorld{
		messages: newFakeMessages(),
		chats:    newFakeChats(chat),
		blobs:    newFakeBlobs(),
		emitter:  newFakeEmitter(),
		alice:    alice,
		bob:      bob,
		chat:     chat,
	}
	w.svc = New(w.messages, w.chats, w.blobs, w.emitter, nil, nil, Config{
		PublicBaseURL:  "http://localhost:8080",
		DedupWindow:    5 * time.Minute,
		MaxAttachments: 5,
	})
	return w
}
