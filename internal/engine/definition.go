package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeType 节点类型
type NodeType string

const (
	NodeStartEvent      NodeType = "startEvent"
	NodeUserTask        NodeType = "userTask"
	NodeParallelGateway NodeType = "parallelGateway"
	NodeEndEvent        NodeType = "endEvent"
)

// MultiInstance 会签配置
type MultiInstance struct {
	Sequential      bool   `json:"sequential" yaml:"sequential"`
	Collection      string `json:"collection" yaml:"collection"`            // 审批人集合变量名
	ElementVariable string `json:"elementVariable" yaml:"elementVariable"` // 单个审批人变量名
}

// Node 流程节点
type Node struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Type            NodeType       `json:"type" yaml:"type"`
	Assignee        string         `json:"assignee,omitempty" yaml:"assignee,omitempty"` // 字面量或 ${var}
	CandidateUsers  []string       `json:"candidateUsers,omitempty" yaml:"candidateUsers,omitempty"`
	CandidateGroups []string       `json:"candidateGroups,omitempty" yaml:"candidateGroups,omitempty"`
	MultiInstance   *MultiInstance `json:"multiInstance,omitempty" yaml:"multiInstance,omitempty"`
}

// Flow 顺序流
type Flow struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Definition 流程定义
type Definition struct {
	ID        string    `json:"id" yaml:"-"`
	Key       string    `json:"key" yaml:"key"`
	Name      string    `json:"name" yaml:"name"`
	Version   int       `json:"version" yaml:"-"`
	TenantID  string    `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	Suspended bool      `json:"suspended" yaml:"-"`
	Nodes     []Node    `json:"nodes" yaml:"nodes"`
	Flows     []Flow    `json:"flows" yaml:"flows"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
}

// definitionBody 持久化到 Data 字段的部分
type definitionBody struct {
	Nodes []Node `json:"nodes"`
	Flows []Flow `json:"flows"`
}

// Node 按 ID 查找节点
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// StartNode 返回开始节点
func (d *Definition) StartNode() (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeStartEvent {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing 返回节点的出线
func (d *Definition) Outgoing(nodeID string) []Flow {
	var flows []Flow
	for _, f := range d.Flows {
		if f.Source == nodeID {
			flows = append(flows, f)
		}
	}
	return flows
}

// Incoming 返回节点的入线
func (d *Definition) Incoming(nodeID string) []Flow {
	var flows []Flow
	for _, f := range d.Flows {
		if f.Target == nodeID {
			flows = append(flows, f)
		}
	}
	return flows
}

// Reachable 判断沿连线能否从 from 走到 to,节点自身视为可达
func (d *Definition) Reachable(from, to string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == to {
			return true
		}
		for _, f := range d.Outgoing(id) {
			if !seen[f.Target] {
				seen[f.Target] = true
				queue = append(queue, f.Target)
			}
		}
	}
	return false
}

// Validate 校验流程定义结构
func (d *Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("definition key is required")
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("definition %s has no nodes", d.Key)
	}

	seen := make(map[string]bool, len(d.Nodes))
	starts, ends := 0, 0
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node ID is required")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node ID: %s", n.ID)
		}
		seen[n.ID] = true

		switch n.Type {
		case NodeStartEvent:
			starts++
		case NodeEndEvent:
			ends++
		case NodeUserTask:
			if mi := n.MultiInstance; mi != nil && (mi.Collection == "" || mi.ElementVariable == "") {
				return fmt.Errorf("multi-instance node %s requires collection and elementVariable", n.ID)
			}
		case NodeParallelGateway:
		default:
			return fmt.Errorf("node %s has unsupported type %q", n.ID, n.Type)
		}
	}
	if starts != 1 {
		return fmt.Errorf("definition %s must have exactly one start event, got %d", d.Key, starts)
	}
	if ends == 0 {
		return fmt.Errorf("definition %s must have at least one end event", d.Key)
	}

	for _, f := range d.Flows {
		if !seen[f.Source] || !seen[f.Target] {
			return fmt.Errorf("flow %s references unknown node", f.ID)
		}
	}
	for _, n := range d.Nodes {
		out := len(d.Outgoing(n.ID))
		if n.Type != NodeEndEvent && out == 0 {
			return fmt.Errorf("node %s has no outgoing flow", n.ID)
		}
		if n.Type == NodeEndEvent && out > 0 {
			return fmt.Errorf("end event %s must not have outgoing flows", n.ID)
		}
		if n.Type == NodeUserTask && out > 1 {
			return fmt.Errorf("user task %s must have a single outgoing flow, use a parallel gateway to fork", n.ID)
		}
	}
	return nil
}

var expressionPattern = regexp.MustCompile(`^\$\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}$`)

// ExpressionVariable 解析 ${var} 表达式,返回变量名
func ExpressionVariable(expr string) (string, bool) {
	m := expressionPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DecodeDefinition 解析流程定义,asYAML 为 false 时按 JSON 解析
func DecodeDefinition(r io.Reader, asYAML bool) (*Definition, error) {
	var def Definition
	if asYAML {
		if err := yaml.NewDecoder(r).Decode(&def); err != nil {
			return nil, fmt.Errorf("decode definition yaml: %w", err)
		}
		return &def, nil
	}
	if err := json.NewDecoder(r).Decode(&def); err != nil {
		return nil, fmt.Errorf("decode definition json: %w", err)
	}
	return &def, nil
}

// LoadDefinitionFile 从文件读取流程定义,按扩展名区分 YAML 与 JSON
func LoadDefinitionFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	return DecodeDefinition(f, ext == ".yaml" || ext == ".yml")
}
