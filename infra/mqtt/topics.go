package mqtt

import "fmt"

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// topics builds the Home Assistant topic layout:
//
//	<prefix>/select/pipump_<uid>/{config,set,state,availability}
//	<prefix>/switch/pipump_<uid>/<pump>/{config,set,state}
//	<prefix>/sensor/pipump_<uid>/<pump>/{config,state}
type topics struct {
	prefix string
	uid    string
}

func newTopics(prefix, uid string) topics { return topics{prefix: prefix, uid: uid} }

func (t topics) selectTopic(leaf string) string {
	return fmt.Sprintf("%s/select/pipump_%s/%s", t.prefix, t.uid, leaf)
}

func (t topics) availability() string { return t.selectTopic("availability") }

func (t topics) switchTopic(pump, leaf string) string {
	return fmt.Sprintf("%s/switch/pipump_%s/%s/%s", t.prefix, t.uid, pump, leaf)
}

func (t topics) sensorTopic(pump, leaf string) string {
	return fmt.Sprintf("%s/sensor/pipump_%s/%s/%s", t.prefix, t.uid, pump, leaf)
}
