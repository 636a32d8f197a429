package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/pipump/core/mode"
)

const (
	manufacturer  = "PiPump"
	suggestedArea = "Swimming pool"
)

type haDevice struct {
	Identifiers   []string `json:"identifiers"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Model         string   `json:"model"`
	Name          string   `json:"name"`
	SWVersion     string   `json:"sw_version,omitempty"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
	ViaDevice     string   `json:"via_device,omitempty"`
}

type haEntity struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	Icon              string   `json:"icon"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	Options           []string `json:"options,omitempty"`
	Device            haDevice `json:"device"`
}

func (b *Bridge) controllerID() string { return "pipump." + b.topics.uid }

func (b *Bridge) pumpDevice(name string) haDevice {
	return haDevice{
		Identifiers:   []string{fmt.Sprintf("%s_%s", b.controllerID(), name)},
		Model:         "Water pump",
		Name:          "Pump " + name,
		SuggestedArea: suggestedArea,
		ViaDevice:     b.controllerID(),
	}
}

func (b *Bridge) selectConfig() ([]byte, error) {
	options := make([]string, len(mode.Modes))
	for i, m := range mode.Modes {
		options[i] = m.String()
	}
	return json.Marshal(haEntity{
		Name:              "Pump Controller",
		UniqueID:          b.controllerID(),
		Icon:              "mdi:table-clock",
		EntityCategory:    "config",
		CommandTopic:      b.topics.selectTopic("set"),
		StateTopic:        b.topics.selectTopic("state"),
		AvailabilityTopic: b.topics.availability(),
		Options:           options,
		Device: haDevice{
			Identifiers:   []string{b.controllerID()},
			Manufacturer:  manufacturer,
			Model:         "PiPump Controller",
			Name:          "Pump Controller",
			SWVersion:     b.cfg.SoftwareVersion,
			SuggestedArea: suggestedArea,
		},
	})
}

func (b *Bridge) switchConfig(name string) ([]byte, error) {
	return json.Marshal(haEntity{
		Name:              "Pump " + name,
		UniqueID:          fmt.Sprintf("%s_%s", b.controllerID(), name),
		Icon:              "mdi:engine",
		EntityCategory:    "config",
		CommandTopic:      b.topics.switchTopic(name, "set"),
		StateTopic:        b.topics.switchTopic(name, "state"),
		AvailabilityTopic: b.topics.availability(),
		Device:            b.pumpDevice(name),
	})
}

func (b *Bridge) sensorConfig(name string) ([]byte, error) {
	return json.Marshal(haEntity{
		Name:              "Daily goal progress",
		UniqueID:          fmt.Sprintf("%s_%s_progress", b.controllerID(), name),
		Icon:              "mdi:progress-check",
		EntityCategory:    "diagnostic",
		StateTopic:        b.topics.sensorTopic(name, "state"),
		AvailabilityTopic: b.topics.availability(),
		UnitOfMeasurement: "%",
		Device:            b.pumpDevice(name),
	})
}
