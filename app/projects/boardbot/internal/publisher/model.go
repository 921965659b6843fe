// Package publisher projects producer data into socket frames and fans delivered frames out to
// in-process subscribers.
package publisher

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
)

type Topic string

const (
	TopicBoard         Topic = "board"
	TopicBoardWiki     Topic = "board_wiki"
	TopicBoardSettings Topic = "board_settings"
	TopicDashboard     Topic = "dashboard"
	TopicUser          Topic = "user"
	TopicUserPrivate   Topic = "user_private"
	TopicGlobal        Topic = "global"
)

func (t Topic) Valid() bool {
	switch t {
	case TopicBoard, TopicBoardWiki, TopicBoardSettings, TopicDashboard, TopicUser, TopicUserPrivate, TopicGlobal:
		return true
	}
	return false
}

// DataKeys selects which producer keys reach the frame: a list, a single key, or all of them.
type DataKeys struct {
	all  bool
	keys []string
}

func Keys(keys ...string) DataKeys { return DataKeys{keys: keys} }

func Key(key string) DataKeys { return DataKeys{keys: []string{key}} }

func AllKeys() DataKeys { return DataKeys{all: true} }

func (d DataKeys) All() bool { return d.all }

// PublishModel describes how one producer payload becomes one frame.
type PublishModel struct {
	Topic      Topic
	TopicID    string
	Event      string
	DataKeys   DataKeys
	CustomData map[string]any
}

// Frame is what socket subscribers receive.
type Frame struct {
	Topic   Topic          `json:"topic"`
	TopicID string         `json:"topic_id"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

// Channel is "<topic>.<topic_id>".
func (f Frame) Channel() string { return ChannelOf(f.Topic, f.TopicID) }

func ChannelOf(topic Topic, topicID string) string { return string(topic) + "." + topicID }

// Project builds the frame for m: the picked keys of data plus m.CustomData.
func Project(data map[string]any, m PublishModel) Frame {
	out := make(map[string]any)
	if m.DataKeys.all {
		for k, v := range data {
			out[k] = v
		}
	} else {
		for _, k := range m.DataKeys.keys {
			if v, ok := data[k]; ok {
				out[k] = v
			}
		}
	}
	for k, v := range m.CustomData {
		out[k] = v
	}
	return Frame{Topic: m.Topic, TopicID: m.TopicID, Event: m.Event, Data: out}
}

// ToMap converts a record into the mapping form producers hand to Put.
func ToMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	raw, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := codec.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("publisher: %T is not an object: %w", v, err)
	}
	return out, nil
}
