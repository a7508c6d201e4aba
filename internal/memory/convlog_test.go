package memory

import (
	"testing"
	"time"
)

func TestConversationLogRoundTrip(t *testing.T) {
	log := NewConversationLog(t.TempDir())
	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	turns := []Turn{
		{Role: RoleUser, Content: "hello", Timestamp: day},
		{Role: RoleAssistant, Content: "hi there", Timestamp: day.Add(time.Second)},
	}
	for _, turn := range turns {
		if err := log.Append("s1", turn); err != nil {
			t.Fatal(err)
		}
	}
	// A turn on another day lands in its own file.
	if err := log.Append("s1", Turn{Role: RoleUser, Content: "next day", Timestamp: day.AddDate(0, 0, 1)}); err != nil {
		t.Fatal(err)
	}

	records, err := log.ReadDay(day)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Content != "hello" || records[1].Content != "hi there" {
		t.Errorf("order wrong: %v", records)
	}
	if records[0].SessionID != "s1" {
		t.Errorf("session id lost: %+v", records[0])
	}

	days, err := log.Days()
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0] != "2026-03-01" || days[1] != "2026-03-02" {
		t.Errorf("days = %v", days)
	}
}

func TestConversationLogAbsentDay(t *testing.T) {
	log := NewConversationLog(t.TempDir())
	records, err := log.ReadDay(time.Now())
	if err != nil || records != nil {
		t.Errorf("absent day: %v, %v", records, err)
	}
	days, err := log.Days()
	if err != nil || days != nil {
		t.Errorf("absent base: %v, %v", days, err)
	}
}
