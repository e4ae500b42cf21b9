package event

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	ev := UploadedEvent{FileID: "abc", TempPath: "/tmp/abc"}
	ev.Normalize()
	if ev.MessageType != TypeFileUploaded {
		t.Errorf("пустой message_type должен заменяться на %q, получен %q", TypeFileUploaded, ev.MessageType)
	}

	custom := UploadedEvent{FileID: "abc", MessageType: "Custom.v2"}
	custom.Normalize()
	if custom.MessageType != "Custom.v2" {
		t.Errorf("заданный message_type не должен перезаписываться, получен %q", custom.MessageType)
	}
}

func TestUnmarshalWithoutMessageType(t *testing.T) {
	// Сообщение от продюсера старой версии без message_type
	body := `{"file_id":"f1","temp_path":"/tmp/f1"}`

	var ev UploadedEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	ev.Normalize()

	if ev.FileID != "f1" {
		t.Errorf("file_id = %q, ожидалось f1", ev.FileID)
	}
	if ev.MessageType != TypeFileUploaded {
		t.Errorf("message_type = %q, ожидалось %q", ev.MessageType, TypeFileUploaded)
	}
}
