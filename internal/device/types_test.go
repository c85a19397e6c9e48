package device

import (
	"reflect"
	"testing"
)

func TestTopic_ResolvedPurpose(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		want  Purpose
	}{
		{name: "explicit wins", topic: Topic{Purpose: PurposeEvent, Direction: DirectionSubscribe}, want: PurposeEvent},
		{name: "subscribe is command", topic: Topic{Direction: DirectionSubscribe, Suffix: "state"}, want: PurposeCommand},
		{name: "ack suffix", topic: Topic{Direction: DirectionPublish, Suffix: "cmd/ack"}, want: PurposeAck},
		{name: "ack beats retain", topic: Topic{Direction: DirectionPublish, Suffix: "ACK", Retain: true}, want: PurposeAck},
		{name: "retained", topic: Topic{Direction: DirectionPublish, Suffix: "power", Retain: true}, want: PurposeState},
		{name: "state suffix", topic: Topic{Direction: DirectionPublish, Suffix: "state"}, want: PurposeState},
		{name: "status suffix", topic: Topic{Direction: DirectionPublish, Suffix: "Status"}, want: PurposeState},
		{name: "fallback telemetry", topic: Topic{Direction: DirectionPublish, Suffix: "readings"}, want: PurposeTelemetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.topic.ResolvedPurpose(); got != tt.want {
				t.Errorf("ResolvedPurpose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParameter_Path(t *testing.T) {
	tests := []struct {
		param Parameter
		want  string
	}{
		{param: Parameter{Key: "level"}, want: "level"},
		{param: Parameter{Key: "level", JSONPath: "$.light.level"}, want: "light.level"},
		{param: Parameter{Key: "level", JSONPath: "light.level"}, want: "light.level"},
	}

	for _, tt := range tests {
		if got := tt.param.Path(); got != tt.want {
			t.Errorf("Path() = %q, want %q", got, tt.want)
		}
	}
}

func TestSubject(t *testing.T) {
	topic := &Topic{Suffix: "/cmd/power/"}

	tests := []struct {
		name     string
		device   *Device
		fallback string
		want     string
	}{
		{
			name:     "external id and type base",
			device:   &Device{UUID: "u-1", ExternalID: "lamp-7", BaseTopic: "/lights/"},
			fallback: "devices",
			want:     "lights/lamp-7/cmd/power",
		},
		{
			name:     "uuid and configured base",
			device:   &Device{UUID: "u-1"},
			fallback: "devices/",
			want:     "devices/u-1/cmd/power",
		},
		{
			name:   "default base",
			device: &Device{UUID: "u-1"},
			want:   "device/u-1/cmd/power",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.fallback, tt.device, topic); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNATSSubjectConversion(t *testing.T) {
	if got := ToNATSSubject("device/lamp-7/state"); got != "device.lamp-7.state" {
		t.Errorf("ToNATSSubject() = %q", got)
	}
	if got := FromNATSSubject("device.lamp-7.state"); got != "device/lamp-7/state" {
		t.Errorf("FromNATSSubject() = %q", got)
	}
}

func TestFeedbackLinks(t *testing.T) {
	links := NewFeedbackLinks([]Link{
		{FromTopicID: 1, ToTopicID: 10, Type: LinkStateFeedback},
		{FromTopicID: 1, ToTopicID: 11, Type: LinkAckFeedback},
		{FromTopicID: 2, ToTopicID: 10, Type: LinkStateFeedback},
		{FromTopicID: 2, ToTopicID: 10, Type: LinkStateFeedback},
		{FromTopicID: 3, ToTopicID: 10, Type: LinkAckFeedback},
	})

	if got := links.Targets(1, LinkStateFeedback); !reflect.DeepEqual(got, []int64{10}) {
		t.Errorf("Targets(1, state) = %v", got)
	}
	if got := links.Targets(4, LinkStateFeedback); len(got) != 0 {
		t.Errorf("Targets(4, state) = %v, want empty", got)
	}
	if got := links.Sources(10, LinkStateFeedback); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("Sources(10, state) = %v, want [1 2]", got)
	}
	if got := links.Sources(10, ""); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Errorf("Sources(10, any) = %v, want [1 2 3]", got)
	}

	var zero FeedbackLinks
	if got := zero.Sources(10, ""); len(got) != 0 {
		t.Errorf("zero Sources() = %v, want empty", got)
	}
}

func TestFeedbackLinkType(t *testing.T) {
	tests := map[Purpose]LinkType{
		PurposeState:     LinkStateFeedback,
		PurposeAck:       LinkAckFeedback,
		PurposeTelemetry: "",
		PurposeEvent:     "",
	}
	for p, want := range tests {
		if got := FeedbackLinkType(p); got != want {
			t.Errorf("FeedbackLinkType(%q) = %q, want %q", p, got, want)
		}
	}
}
