package multiinstance

import (
	"context"
	"time"

	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/patrickmn/go-cache"
)

// Kind 会签类型
type Kind string

const (
	KindNone       Kind = "none"
	KindParallel   Kind = "parallel"
	KindSequential Kind = "sequential"
)

// Descriptor 节点的会签描述
type Descriptor struct {
	NodeID          string
	Kind            Kind
	Collection      string // 审批人集合变量名
	ElementVariable string // 单个审批人变量名
}

// IsMultiInstance 是否为会签节点
func (d *Descriptor) IsMultiInstance() bool {
	return d != nil && d.Kind != KindNone
}

// Sequential 是否为串行会签
func (d *Descriptor) Sequential() bool {
	return d != nil && d.Kind == KindSequential
}

// Resolver 会签解析器,只读
type Resolver struct {
	engine engine.ProcessEngine
	// 流程定义按 ID 部署后不可变,可以缓存
	definitions *cache.Cache
}

// NewResolver 创建会签解析器
func NewResolver(eng engine.ProcessEngine) *Resolver {
	return &Resolver{
		engine:      eng,
		definitions: cache.New(30*time.Minute, time.Hour),
	}
}

func (r *Resolver) definition(ctx context.Context, definitionID string) (*engine.Definition, error) {
	if v, ok := r.definitions.Get(definitionID); ok {
		return v.(*engine.Definition), nil
	}
	def, err := r.engine.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	r.definitions.SetDefault(definitionID, def)
	return def, nil
}

// Resolve 返回节点的会签类型及变量名
func (r *Resolver) Resolve(ctx context.Context, definitionID, nodeID string) (*Descriptor, error) {
	def, err := r.definition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	node, ok := def.Node(nodeID)
	if !ok {
		return nil, flowerr.NotFound("node %s does not exist in definition %s", nodeID, definitionID)
	}

	d := &Descriptor{NodeID: nodeID, Kind: KindNone}
	if mi := node.MultiInstance; mi != nil {
		d.Kind = KindParallel
		if mi.Sequential {
			d.Kind = KindSequential
		}
		d.Collection = mi.Collection
		d.ElementVariable = mi.ElementVariable
	}
	return d, nil
}

// SequentialApprovers 读取串行会签令牌作用域内的有序审批人列表
func (r *Resolver) SequentialApprovers(ctx context.Context, executionID string, d *Descriptor) ([]string, error) {
	if !d.Sequential() {
		return nil, flowerr.NotMultiInstance()
	}
	var approvers []string
	found, err := r.engine.GetVariable(ctx, executionID, d.Collection, &approvers)
	if err != nil {
		return nil, flowerr.Engine(err, "failed to read approvers of node %s", d.NodeID)
	}
	if !found {
		return nil, flowerr.Misconfigured("approver collection %s is not set on node %s", d.Collection, d.NodeID)
	}
	return approvers, nil
}
