// Пакет event — wire-контракт между producer и consumer.
// Событие самодостаточно: consumer не зависит от состояния отправителя.
package event

// TypeFileUploaded — тег типа события загрузки файла.
const TypeFileUploaded = "FileUploaded.v1"

// UploadedEvent — событие «файл загружен во временное хранилище».
// Единственный контракт между API-модулем и worker-ом.
type UploadedEvent struct {
	// FileID — UUID записи файла
	FileID string `json:"file_id"`
	// TempPath — локатор файла во временном хранилище
	TempPath string `json:"temp_path"`
	// MessageType — тег типа сообщения. Может быть пустым у старых
	// продюсеров — consumer подставляет значение по умолчанию.
	MessageType string `json:"message_type"`
}

// Normalize подставляет тег типа по умолчанию, если он отсутствует.
func (e *UploadedEvent) Normalize() {
	if e.MessageType == "" {
		e.MessageType = TypeFileUploaded
	}
}
