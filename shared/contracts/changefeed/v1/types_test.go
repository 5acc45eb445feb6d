package v1

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	item, err := json.Marshal(ItemPayload{ID: "p1", AuthorID: "u1", Kind: "post"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "subscribe", env: Envelope{V: Version, Type: TypeSubscribe}},
		{name: "subscribe ack", env: Envelope{V: Version, Type: TypeSubscribeAck, Topic: "posts"}},
		{name: "error", env: Envelope{V: Version, Type: TypeError}},
		{name: "insert", env: Envelope{V: Version, Type: TypeInsert, Topic: "posts", Payload: item}},
		{name: "update", env: Envelope{V: Version, Type: TypeUpdate, Topic: "comments:p1", Payload: item}},
		{name: "delete", env: Envelope{V: Version, Type: TypeDelete, Topic: "posts"}},
		{name: "missing version", env: Envelope{Type: TypeInsert, Topic: "posts"}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeInsert, Topic: "posts"}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "ping"}, wantErr: true},
		{name: "insert without topic", env: Envelope{V: Version, Type: TypeInsert, Payload: item}, wantErr: true},
		{name: "delete without topic", env: Envelope{V: Version, Type: TypeDelete}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(SubscribePayload{Topic: "posts"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Envelope{V: Version, Type: TypeSubscribe, ID: "01ARZ", Payload: payload}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.V != Version || got.Type != TypeSubscribe || got.ID != "01ARZ" {
		t.Fatalf("got=%+v", got)
	}
	var p SubscribePayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Topic != "posts" {
		t.Fatalf("topic=%q", p.Topic)
	}
}
