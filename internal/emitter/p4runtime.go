package emitter

import (
	"fmt"
	"io"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/protoadapt"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/utils"
)

// Match field and action parameter ids of the reference pipeline: the
// partition tables match one field and their action takes the bucket
// index; the forwarding table matches one bucket index per field and
// ipv4_forward takes (dstAddr, port).
const (
	partitionMatchFieldID = 1
	bucketParamID         = 1
	dstAddrParamID        = 1
	portParamID           = 2
)

type P4RuntimeEmitter struct {
	Pipeline config.Pipeline
	Fields   []model.FieldSpec
}

func (e *P4RuntimeEmitter) WriteRequest(prog *model.Program) (*p4v1.WriteRequest, error) {
	if err := checkFields(e.Fields, prog); err != nil {
		return nil, err
	}
	if err := e.checkIDs(); err != nil {
		return nil, err
	}
	prio := int32(e.Pipeline.Priority)
	if prio < 1 {
		prio = config.DefaultPriority
	}

	req := &p4v1.WriteRequest{
		DeviceId:   e.Pipeline.DeviceID,
		ElectionId: &p4v1.Uint128{High: 0, Low: 1},
		Atomicity:  p4v1.WriteRequest_ROLLBACK_ON_ERROR,
	}
	for i, table := range prog.Tables {
		field := e.Fields[i]
		for _, b := range table.Buckets {
			req.Updates = append(req.Updates, insert(&p4v1.TableEntry{
				TableId:  field.TableID,
				Match:    []*p4v1.FieldMatch{rangeMatch(partitionMatchFieldID, b.Low, b.High)},
				Action:   action(field.ActionID, param(bucketParamID, uint64(b.Index))),
				Priority: prio,
			}))
		}
	}

	for _, rule := range prog.Rules {
		matches := make([]*p4v1.FieldMatch, 0, len(rule.Ranges))
		for i, r := range rule.Ranges {
			matches = append(matches, rangeMatch(uint32(i+1), uint64(r.Start), uint64(r.End)))
		}
		rulePrio := int32(rule.Priority)
		if rulePrio < 1 {
			rulePrio = prio
		}
		entry := &p4v1.TableEntry{TableId: e.Pipeline.ForwardTableID, Match: matches, Priority: rulePrio}
		if rule.Resolution.Drop {
			entry.Action = action(e.Pipeline.DropActionID)
		} else {
			host, err := utils.IPv4Uint32(rule.Resolution.Destination.Host)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", rule.Leaf.Line, err)
			}
			entry.Action = action(e.Pipeline.ForwardActionID,
				param(dstAddrParamID, uint64(host)),
				param(portParamID, uint64(rule.Resolution.Destination.Port)))
		}
		req.Updates = append(req.Updates, insert(entry))
	}
	return req, nil
}

func (e *P4RuntimeEmitter) Emit(w io.Writer, prog *model.Program) error {
	req, err := e.WriteRequest(prog)
	if err != nil {
		return err
	}
	raw, err := prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(protoadapt.MessageV2Of(req))
	if err != nil {
		return fmt.Errorf("encoding write request: %w", err)
	}
	_, err = w.Write(raw)
	return err
}

func (e *P4RuntimeEmitter) checkIDs() error {
	for _, f := range e.Fields {
		if f.TableID == 0 || f.ActionID == 0 {
			return fmt.Errorf("p4runtime output needs table_id and action_id for field %s", f.Name)
		}
	}
	if e.Pipeline.ForwardTableID == 0 || e.Pipeline.ForwardActionID == 0 || e.Pipeline.DropActionID == 0 {
		return fmt.Errorf("p4runtime output needs pipeline.forward_table_id, forward_action_id and drop_action_id")
	}
	return nil
}

func insert(entry *p4v1.TableEntry) *p4v1.Update {
	return &p4v1.Update{
		Type:   p4v1.Update_INSERT,
		Entity: &p4v1.Entity{Entity: &p4v1.Entity_TableEntry{TableEntry: entry}},
	}
}

func rangeMatch(id uint32, low, high uint64) *p4v1.FieldMatch {
	return &p4v1.FieldMatch{
		FieldId: id,
		FieldMatchType: &p4v1.FieldMatch_Range_{Range: &p4v1.FieldMatch_Range{
			Low:  utils.CanonicalBytes(low),
			High: utils.CanonicalBytes(high),
		}},
	}
}

func action(id uint32, params ...*p4v1.Action_Param) *p4v1.TableAction {
	return &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: &p4v1.Action{ActionId: id, Params: params}}}
}

func param(id uint32, v uint64) *p4v1.Action_Param {
	return &p4v1.Action_Param{ParamId: id, Value: utils.CanonicalBytes(v)}
}
