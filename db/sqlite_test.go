package db

import (
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestConversationLifecycle(t *testing.T) {
	database := newTestDB(t)

	conv, err := database.CreateConversation("New Chat", "general")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if conv.ID == 0 {
		t.Error("Expected non-zero conversation ID")
	}

	got, err := database.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Title != "New Chat" || got.Category != "general" {
		t.Errorf("Unexpected conversation: %+v", got)
	}

	if err := database.UpdateConversation(conv.ID, "Renamed", "general"); err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}
	got, _ = database.GetConversation(conv.ID)
	if got.Title != "Renamed" {
		t.Errorf("Title not updated: %q", got.Title)
	}

	list, err := database.ListConversations(10, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 conversation, got %d", len(list))
	}

	count, err := database.CountConversations()
	if err != nil || count != 1 {
		t.Errorf("Expected count 1, got %d (err %v)", count, err)
	}

	if err := database.DeleteConversation(conv.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, err := database.GetConversation(conv.ID); err == nil {
		t.Error("Expected error fetching deleted conversation")
	}
}

func TestMessageTurns(t *testing.T) {
	database := newTestDB(t)
	conv, _ := database.CreateConversation("Chat", "")

	turn, err := database.NextTurn(conv.ID)
	if err != nil {
		t.Fatalf("NextTurn failed: %v", err)
	}
	if turn != 1 {
		t.Errorf("Expected first turn 1, got %d", turn)
	}

	if _, err := database.CreateMessage(conv.ID, 1, "user", "question", "", "", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if _, err := database.CreateMessage(conv.ID, 1, "assistant", "answer a", "ollama", "llama3", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if _, err := database.CreateMessage(conv.ID, 1, "assistant", "answer b", "ollama", "mistral", ""); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	turn, _ = database.NextTurn(conv.ID)
	if turn != 2 {
		t.Errorf("Expected next turn 2, got %d", turn)
	}

	messages, err := database.ListMessages(conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].Role != "user" {
		t.Errorf("Expected user message first, got %q", messages[0].Role)
	}
}

func TestFindTurnMessage(t *testing.T) {
	database := newTestDB(t)
	conv, _ := database.CreateConversation("Chat", "")

	database.CreateMessage(conv.ID, 1, "user", "q", "", "", "")
	msg, _ := database.CreateMessage(conv.ID, 1, "assistant", "answer", "ollama", "llama3", "")

	found, err := database.FindTurnMessage(conv.ID, 1, "llama3")
	if err != nil {
		t.Fatalf("FindTurnMessage failed: %v", err)
	}
	if found == nil || found.ID != msg.ID {
		t.Errorf("Expected message %d, got %+v", msg.ID, found)
	}

	found, err = database.FindTurnMessage(conv.ID, 1, "mistral")
	if err != nil {
		t.Fatalf("FindTurnMessage failed: %v", err)
	}
	if found != nil {
		t.Errorf("Expected no message for unused model, got %+v", found)
	}
}

func TestDeleteMessage(t *testing.T) {
	database := newTestDB(t)
	conv, _ := database.CreateConversation("Chat", "")

	msg, _ := database.CreateMessage(conv.ID, 1, "assistant", "stale", "ollama", "llama3", "")
	if err := database.DeleteMessage(msg.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, err := database.GetMessage(msg.ID); err == nil {
		t.Error("Expected error fetching deleted message")
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	database := newTestDB(t)
	conv, _ := database.CreateConversation("Chat", "")
	msg, _ := database.CreateMessage(conv.ID, 1, "user", "q", "", "", "")

	if err := database.DeleteConversation(conv.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, err := database.GetMessage(msg.ID); err == nil {
		t.Error("Messages survived conversation deletion")
	}
}

func TestSearchMessages(t *testing.T) {
	database := newTestDB(t)
	conv1, _ := database.CreateConversation("One", "")
	conv2, _ := database.CreateConversation("Two", "")

	database.CreateMessage(conv1.ID, 1, "user", "tell me about goroutines", "", "", "")
	database.CreateMessage(conv1.ID, 1, "assistant", "goroutines are lightweight threads", "ollama", "llama3", "")
	database.CreateMessage(conv2.ID, 1, "user", "what is a channel", "", "", "")

	results, err := database.SearchMessages(conv1.ID, "goroutines", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 matches in conversation 1, got %d", len(results))
	}

	// Conversation 0 searches everywhere.
	results, err = database.SearchMessages(0, "channel", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 match across conversations, got %d", len(results))
	}

	results, err = database.SearchMessages(conv2.ID, "goroutines", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no matches in conversation 2, got %d", len(results))
	}
}

func TestGetStats(t *testing.T) {
	database := newTestDB(t)
	conv, _ := database.CreateConversation("Chat", "")
	database.CreateMessage(conv.ID, 1, "user", "q", "", "", "")

	stats, err := database.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.ConversationCount != 1 || stats.MessageCount != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
