package schema

import (
	"errors"
	"testing"

	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

type turret struct {
	fired []float32
	aimed []wire.Vec2
	from  transport.ConnID
}

var turretClass = Define("turret", func(d *Def[turret]) {
	Command1(d, "Fire", func(t *turret, c Call, power float32) {
		t.fired = append(t.fired, power)
		t.from = c.Sender
	})
	Observer2(d, "aim", func(t *turret, _ Call, at wire.Vec2, label string) {
		t.aimed = append(t.aimed, at)
	}).Deliver(transport.UnreliableSequenced)
})

// TestMethodIDsFollowDeclarationOrder tests ids, lower-cased names and kinds
func TestMethodIDsFollowDeclarationOrder(t *testing.T) {
	fire, ok := turretClass.Method("FIRE")
	if !ok || fire.ID() != 0 || fire.Name() != "fire" || fire.Direction() != DirCommand {
		t.Fatalf("fire = %+v", fire)
	}
	aim, ok := turretClass.MethodByID(1)
	if !ok || aim.Name() != "aim" || aim.Direction() != DirObserver {
		t.Fatalf("aim = %+v", aim)
	}
	if len(aim.Params()) != 2 || aim.Params()[0] != KindVec2 || aim.Params()[1] != KindString {
		t.Errorf("aim params = %v", aim.Params())
	}
	if _, ok := turretClass.MethodByID(2); ok {
		t.Error("unexpected method 2")
	}
}

// TestSequencedDeliveryIsDowngraded tests the delivery downgrade and its warning
func TestSequencedDeliveryIsDowngraded(t *testing.T) {
	aim, _ := turretClass.Method("aim")
	if aim.Delivery() != transport.Unreliable {
		t.Errorf("delivery = %s", aim.Delivery())
	}
	fire, _ := turretClass.Method("fire")
	if fire.Delivery() != transport.ReliableOrdered {
		t.Errorf("default delivery = %s", fire.Delivery())
	}
	issues := turretClass.Issues()
	if len(issues) != 1 || !issues[0].Warning {
		t.Errorf("issues = %v", issues)
	}
}

// TestDuplicateMethodIsRejected tests the bijective name map
func TestDuplicateMethodIsRejected(t *testing.T) {
	c := Define("dup", func(d *Def[turret]) {
		Command0(d, "go", func(*turret, Call) {})
		Command0(d, "Go", func(*turret, Call) {})
	})
	if len(c.Methods()) != 1 || len(c.Issues()) != 1 {
		t.Errorf("methods %d issues %v", len(c.Methods()), c.Issues())
	}
}

// TestMarshalInvokeRoundTrip tests marshalling, unmarshalling and invocation
func TestMarshalInvokeRoundTrip(t *testing.T) {
	ads := DefaultAdapters()
	aim, _ := turretClass.Method("aim")

	w := &wire.Writer{}
	if err := aim.Marshal(w, ads, []any{wire.Vec2{X: 1, Y: 2}, "north"}); err != nil {
		t.Fatal(err)
	}
	args, err := aim.Unmarshal(wire.NewReader(w.Bytes()), ads)
	if err != nil {
		t.Fatal(err)
	}
	tur := &turret{}
	if err := aim.Invoke(tur, Call{Sender: 3}, args); err != nil {
		t.Fatal(err)
	}
	if len(tur.aimed) != 1 || tur.aimed[0] != (wire.Vec2{X: 1, Y: 2}) {
		t.Errorf("aimed = %v", tur.aimed)
	}
}

// TestMarshalAbortsBeforeWriting tests that bad arguments leave the buffer untouched
func TestMarshalAbortsBeforeWriting(t *testing.T) {
	ads := DefaultAdapters()
	fire, _ := turretClass.Method("fire")

	tests := []struct {
		name string
		args []any
		want error
	}{
		{"unsupported type", []any{struct{}{}}, ErrNoAdapter},
		{"wrong kind", []any{float64(1)}, ErrArgKind},
		{"too many", []any{float32(1), float32(2)}, ErrArgCount},
		{"nil", []any{nil}, ErrNoAdapter},
	}
	for _, tt := range tests {
		w := &wire.Writer{}
		err := fire.Marshal(w, ads, tt.args)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
		if w.Len() != 0 {
			t.Errorf("%s: %d bytes written", tt.name, w.Len())
		}
	}
}

// TestInvokeRejectsForeignComponent tests that methods only run on their class
func TestInvokeRejectsForeignComponent(t *testing.T) {
	fire, _ := turretClass.Method("fire")
	if err := fire.Invoke(&unit{}, Call{}, []any{float32(1)}); !errors.Is(err, ErrWrongComponent) {
		t.Errorf("got %v", err)
	}
}
