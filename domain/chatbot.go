package domain

// DefaultChatbotID is assumed when a bootstrap request names no chatbot.
const DefaultChatbotID = "default"

// Chatbot is a catalog entry for one preconfigured assistant. WorkflowID
// overrides the server-wide default workflow when non-empty; Greeting
// overrides the panel's start-screen greeting.
type Chatbot struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" mapstructure:"description"`
	WorkflowID  string `json:"workflow_id,omitempty" mapstructure:"workflow_id"`
	Greeting    string `json:"greeting,omitempty" mapstructure:"greeting"`
}

// ChatbotDirectory is the static, config-provisioned chatbot catalog.
type ChatbotDirectory struct {
	bots  map[string]Chatbot
	order []string
}

// NewChatbotDirectory builds a directory preserving declaration order.
func NewChatbotDirectory(bots []Chatbot) *ChatbotDirectory {
	d := &ChatbotDirectory{bots: make(map[string]Chatbot, len(bots))}
	for _, b := range bots {
		if b.ID == "" {
			continue
		}
		if _, exists := d.bots[b.ID]; !exists {
			d.order = append(d.order, b.ID)
		}
		d.bots[b.ID] = b
	}
	return d
}

// Get returns the chatbot with the given id.
func (d *ChatbotDirectory) Get(id string) (Chatbot, bool) {
	b, ok := d.bots[id]
	return b, ok
}

// WorkflowOverride returns the chatbot's workflow id, or "" when the
// chatbot is unknown or carries no override.
func (d *ChatbotDirectory) WorkflowOverride(chatbotID string) string {
	if b, ok := d.bots[chatbotID]; ok {
		return b.WorkflowID
	}
	return ""
}

// List returns all chatbots in declaration order.
func (d *ChatbotDirectory) List() []Chatbot {
	out := make([]Chatbot, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.bots[id])
	}
	return out
}
