package tracer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/hostiotrace/internal/model"
)

func TestCheckCleanTree(t *testing.T) {
	steps := []model.Step{
		&model.HostIO{
			Name:     "call_contract",
			Fields:   model.Fields{{Key: "address", Value: model.AddressValue(addrX)}},
			Subtrace: &model.Frame{Address: addrX},
		},
		&model.Frame{Address: addrY},
	}
	if issues := Check(steps, nil); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestCheckReportsIssues(t *testing.T) {
	steps := []model.Step{
		&model.HostIO{Name: "call_contract"},
		&model.HostIO{Name: "read_args", Subtrace: &model.Frame{Address: addrX}},
		&model.HostIO{
			Name:     "static_call_contract",
			Fields:   model.Fields{{Key: "address", Value: model.AddressValue(addrY)}},
			Subtrace: &model.Frame{Address: addrX, Steps: []model.Step{&model.Frame{}}},
		},
	}
	issues := Check(steps, nil)
	want := []string{"/0", "/1", "/2"}
	if len(issues) != len(want) {
		t.Fatalf("expected %d issues, got %v", len(want), issues)
	}
	for i, path := range want {
		if issues[i].Path != path {
			t.Errorf("issue %d path = %s, want %s (%s)", i, issues[i].Path, path, issues[i])
		}
	}
}

func TestCheckBuiltTreeIsClean(t *testing.T) {
	res, err := Build(nil, []model.Event{
		hostio("read_args"),
		enter(addrX),
		enter(common.HexToAddress("0x0c")),
		exit(),
		hostio("static_call_contract"),
		exit(),
		hostio("call_contract"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if issues := Check(res.Root, nil); len(issues) != 0 {
		t.Errorf("builder output should pass Check, got %v", issues)
	}
}
