package models

// HandinQueuedEvent is published when a handin is accepted for execution.
type HandinQueuedEvent struct {
	HandinID   string            `json:"handin_id"`
	HomeworkID string            `json:"hwid"`
	Lang       string            `json:"lang"`
	ObjectKey  string            `json:"object_key,omitempty"`
	Address    string            `json:"address,omitempty"`
	Data       string            `json:"data,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}
