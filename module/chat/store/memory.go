package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"RTChat/module/chat/model"
	"RTChat/tools/errs"
	"RTChat/tools/ids"
)

// MemStore is the in-memory twin of Store, used by tests and single-node
// runs. It enforces the same invariants the mongo indexes enforce: one row
// per (sender, client_msg_id) and monotonic receipt status.
type MemStore struct {
	mu       sync.Mutex
	messages map[int64]*model.Message
	byClient map[string]int64 // sender|clientMsgID -> message id
	receipts map[string]*model.MessageReceipt
	members  map[string][]*model.ConversationMember // convID -> members
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages: make(map[int64]*model.Message),
		byClient: make(map[string]int64),
		receipts: make(map[string]*model.MessageReceipt),
		members:  make(map[string][]*model.ConversationMember),
	}
}

func clientKey(senderID, clientMsgID string) string { return senderID + "|" + clientMsgID }

func receiptKey(msgID int64, userID string) string {
	return userID + "|" + strconv.FormatInt(msgID, 10)
}

// AddMember seeds a membership row (test/bootstrap helper).
func (s *MemStore) AddMember(convID, userID string, role int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[convID] = append(s.members[convID], &model.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		Status:         model.MemberStatusActive,
		JoinedAt:       time.Now(),
	})
}

func (s *MemStore) CreateMessage(_ context.Context, dto *model.SendMessageDTO, senderID string) (*model.Message, error) {
	if dto.Type == "" {
		dto.Type = model.MsgTypeText
	}
	if dto.Type == model.MsgTypeText && dto.Content == "" {
		return nil, errs.ErrEmptyContent.Wrap()
	}
	if dto.ConversationID == "" || dto.ClientMsgID == "" {
		return nil, errs.ErrArgs.WithDetail("conversationId and clientMessageId are required").Wrap()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byClient[clientKey(senderID, dto.ClientMsgID)]; ok {
		return s.messages[id], nil
	}
	msg := &model.Message{
		ID:             ids.Generate(),
		ConversationID: dto.ConversationID,
		SenderID:       senderID,
		Type:           dto.Type,
		Content:        dto.Content,
		ClientMsgID:    dto.ClientMsgID,
		CreatedAt:      time.Now(),
	}
	s.messages[msg.ID] = msg
	s.byClient[clientKey(senderID, dto.ClientMsgID)] = msg.ID
	return msg, nil
}

func (s *MemStore) GetMessage(_ context.Context, id int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrMessageNotFound.Wrap()
	}
	return m, nil
}

func (s *MemStore) RecallMessage(_ context.Context, msgID int64, byUserID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgID]
	if !ok {
		return nil, errs.ErrMessageNotFound.Wrap()
	}
	if m.SenderID != byUserID {
		return nil, errs.ErrRecallNotSender.Wrap()
	}
	if m.DeletedAt == nil {
		now := time.Now()
		m.DeletedAt = &now
		m.DeletedBy = byUserID
	}
	return m, nil
}

func (s *MemStore) MarkDelivered(_ context.Context, msgID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := receiptKey(msgID, userID)
	if r, ok := s.receipts[k]; ok && r.Status == model.ReceiptSeen {
		return nil // never downgrade
	}
	s.receipts[k] = &model.MessageReceipt{
		MessageID: msgID, UserID: userID,
		Status: model.ReceiptDelivered, UpdatedAt: time.Now(),
	}
	return nil
}

func (s *MemStore) BulkMarkDelivered(ctx context.Context, msgIDs []int64, userID string) error {
	for _, id := range msgIDs {
		if err := s.MarkDelivered(ctx, id, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) MarkSeen(_ context.Context, msgIDs []int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range msgIDs {
		s.receipts[receiptKey(id, userID)] = &model.MessageReceipt{
			MessageID: id, UserID: userID,
			Status: model.ReceiptSeen, UpdatedAt: time.Now(),
		}
	}
	return nil
}

func (s *MemStore) IsSeenByAll(_ context.Context, msgID int64, recipientIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range recipientIDs {
		r, ok := s.receipts[receiptKey(msgID, uid)]
		if !ok || r.Status != model.ReceiptSeen {
			return false, nil
		}
	}
	return true, nil
}

func (s *MemStore) GetReceipt(_ context.Context, msgID int64, userID string) (*model.MessageReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[receiptKey(msgID, userID)], nil
}

func (s *MemStore) IsMember(_ context.Context, convID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[convID] {
		if m.UserID == userID && m.Status == model.MemberStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) GetActiveMembers(_ context.Context, convID string) ([]model.MemberRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MemberRef
	for _, m := range s.members[convID] {
		if m.Status == model.MemberStatusActive {
			out = append(out, model.MemberRef{UserID: m.UserID, Role: m.Role})
		}
	}
	return out, nil
}

func (s *MemStore) IncrementUnread(_ context.Context, convID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[convID] {
		if m.UserID == userID {
			m.UnreadCount++
		}
	}
	return nil
}

func (s *MemStore) ResetUnread(_ context.Context, convID, userID string, lastReadMsgID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[convID] {
		if m.UserID == userID {
			m.UnreadCount = 0
			now := time.Now()
			m.LastReadAt = &now
			if lastReadMsgID > m.LastReadMessageID {
				m.LastReadMessageID = lastReadMsgID
			}
		}
	}
	return nil
}

// UnreadCount is a test helper.
func (s *MemStore) UnreadCount(convID, userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[convID] {
		if m.UserID == userID {
			return m.UnreadCount
		}
	}
	return 0
}
