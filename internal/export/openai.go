package export

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// openAIConversation is one element of a ChatGPT conversations.json export.
type openAIConversation struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	Title          string                `json:"title"`
	CreateTime     *float64              `json:"create_time"`
	CurrentNode    string                `json:"current_node"`
	Mapping        map[string]openAINode `json:"mapping"`
}

type openAINode struct {
	ID      string         `json:"id"`
	Message *openAIMessage `json:"message"`
	Parent  *string        `json:"parent"`
}

type openAIMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
	CreateTime *float64 `json:"create_time"`
}

// ParseOpenAI parses a ChatGPT export: either the conversations.json array or
// a single conversation object.
func ParseOpenAI(data []byte) ([]Conversation, error) {
	var raw []openAIConversation
	if err := unmarshalOneOrMany(data, &raw); err != nil {
		return nil, fmt.Errorf("parse openai export: %w", err)
	}

	convs := make([]Conversation, 0, len(raw))
	for _, rc := range raw {
		id := rc.ID
		if id == "" {
			id = rc.ConversationID
		}
		if id == "" {
			continue
		}

		nodes := orderOpenAINodes(rc)
		conv := Conversation{
			ID:     id,
			Title:  rc.Title,
			Source: SourceOpenAI,
		}
		if rc.CreateTime != nil {
			conv.CreatedAt = unixFloat(*rc.CreateTime)
		}

		var lastTS time.Time
		for _, node := range nodes {
			msg := node.Message
			msgID := msg.ID
			if msgID == "" {
				msgID = node.ID
			}
			var ts time.Time
			if msg.CreateTime != nil {
				ts = unixFloat(*msg.CreateTime)
			}
			// The newest message identifies this version of the thread.
			if conv.LastMessageID == "" || !ts.Before(lastTS) {
				conv.LastMessageID = msgID
				lastTS = ts
			}

			role, ok := openAIRole(msg.Author.Role)
			if !ok {
				continue
			}
			conv.Turns = append(conv.Turns, Turn{
				ID:        msgID,
				Role:      role,
				Text:      openAIText(msg.Content.Parts),
				Timestamp: ts,
			})
		}
		if rc.CurrentNode != "" {
			if node, ok := rc.Mapping[rc.CurrentNode]; ok && node.Message != nil && node.Message.ID != "" {
				conv.LastMessageID = node.Message.ID
			}
		}

		convs = append(convs, conv)
	}
	return convs, nil
}

// orderOpenAINodes walks the active branch from current_node back to the root.
// Exports without a usable current_node fall back to every node with a message,
// ordered by timestamp and node id.
func orderOpenAINodes(rc openAIConversation) []openAINode {
	if node, ok := rc.Mapping[rc.CurrentNode]; ok {
		var chain []openAINode
		visited := make(map[string]bool)
		for {
			if visited[node.ID] {
				break
			}
			visited[node.ID] = true
			if node.Message != nil {
				chain = append(chain, node)
			}
			if node.Parent == nil || *node.Parent == "" {
				break
			}
			parent, ok := rc.Mapping[*node.Parent]
			if !ok {
				break
			}
			node = parent
		}
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		return chain
	}

	nodes := make([]openAINode, 0, len(rc.Mapping))
	for key, node := range rc.Mapping {
		if node.Message == nil {
			continue
		}
		if node.ID == "" {
			node.ID = key
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		ti, tj := createTime(nodes[i]), createTime(nodes[j])
		if ti != tj {
			return ti < tj
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

func createTime(n openAINode) float64 {
	if n.Message.CreateTime == nil {
		return 0
	}
	return *n.Message.CreateTime
}

func openAIRole(role string) (Role, bool) {
	switch role {
	case "user":
		return RoleHuman, true
	case "assistant":
		return RoleAssistant, true
	}
	return "", false
}

// openAIText joins the string parts of a message. Non-string parts (images,
// attachments) are skipped.
func openAIText(parts []json.RawMessage) string {
	var texts []string
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

func unixFloat(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
