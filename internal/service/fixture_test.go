package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/mautops/workflow-gin/internal/multiinstance"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/mautops/workflow-gin/internal/status"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// recordingNotifier 记录提交后发送的通知
type recordingNotifier struct {
	mu       sync.Mutex
	requests []service.NotifyRequest
}

func (n *recordingNotifier) Send(_ context.Context, req service.NotifyRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

func (n *recordingNotifier) last() service.NotifyRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.requests) == 0 {
		return service.NotifyRequest{}
	}
	return n.requests[len(n.requests)-1]
}

// recordingHooks 记录监听器回调,fail 非空时对应回调返回错误
type recordingHooks struct {
	service.NoopHooks
	mu     sync.Mutex
	events []string
	fail   map[string]error
}

func (h *recordingHooks) record(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, name)
	return h.fail[name]
}

func (h *recordingHooks) OnSubmit(context.Context, service.HookEvent) error { return h.record("submit") }
func (h *recordingHooks) OnFinish(context.Context, service.HookEvent) error { return h.record("finish") }
func (h *recordingHooks) OnTerminate(context.Context, service.HookEvent) error {
	return h.record("terminate")
}
func (h *recordingHooks) OnReject(context.Context, service.HookEvent) error { return h.record("reject") }
func (h *recordingHooks) OnCancel(context.Context, service.HookEvent) error { return h.record("cancel") }

type fixture struct {
	tx          *database.TxManager
	engine      *engine.GormEngine
	history     *service.NodeHistoryService
	actions     *service.TaskActionService
	instances   *service.InstanceService
	definitions *service.DefinitionService
	queries     service.QueryService
	audit       service.AuditLogService
	notifier    *recordingNotifier
	hooks       *recordingHooks
}

func newFixture(t *testing.T) *fixture {
	db, err := database.Connect(config.DatabaseConfig{Driver: database.DriverSQLite, DBName: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	tx := database.NewTxManager(db)
	eng := engine.NewGormEngine(tx, logger)
	resolver := multiinstance.NewResolver(eng)
	configs := repository.NewDefinitionConfigRepository(tx)
	history := service.NewNodeHistoryService(repository.NewNodeHistoryRepository(tx), resolver)
	audit := service.NewAuditLogService(repository.NewAuditLogRepository(tx))
	l := lock.NewLocalWorkflowLock()
	nodeCache := service.NewNodeConfigCache(configs, 0)

	f := &fixture{
		tx:       tx,
		engine:   eng,
		history:  history,
		audit:    audit,
		notifier: &recordingNotifier{},
		hooks:    &recordingHooks{},
	}
	f.actions = service.NewTaskActionService(service.TaskActionDeps{
		Engine:      eng,
		Tx:          tx,
		Lock:        l,
		Resolver:    resolver,
		History:     history,
		Configs:     configs,
		Attachments: service.NewAttachmentService(eng),
		Audit:       audit,
		Hooks:       f.hooks,
		Notifier:    f.notifier,
		Logger:      logger,
	})
	f.instances = service.NewInstanceService(f.actions)
	f.definitions = service.NewDefinitionService(eng, tx, l, configs, nodeCache, audit, logger)
	f.queries = service.NewQueryService(eng, repository.NewTaskRepository(tx), resolver, nodeCache)
	return f
}

func as(userID string) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{UserID: userID, Name: userID})
}

func asAdmin() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{UserID: "admin", Name: "管理员", Admin: true})
}

func userTask(id, assignee string) engine.Node {
	return engine.Node{ID: id, Name: id, Type: engine.NodeUserTask, Assignee: assignee}
}

func flow(source, target string) engine.Flow {
	return engine.Flow{ID: source + "-" + target, Source: source, Target: target}
}

// chain 依次连接节点,首尾为开始和结束事件
func chain(key string, tasks ...engine.Node) *engine.Definition {
	nodes := []engine.Node{{ID: "start", Type: engine.NodeStartEvent}}
	nodes = append(nodes, tasks...)
	nodes = append(nodes, engine.Node{ID: "end", Type: engine.NodeEndEvent})
	var flows []engine.Flow
	for i := 1; i < len(nodes); i++ {
		flows = append(flows, flow(nodes[i-1].ID, nodes[i].ID))
	}
	return &engine.Definition{Key: key, Name: key, Nodes: nodes, Flows: flows}
}

// leaveDefinition apply -> audit
func leaveDefinition() *engine.Definition {
	return chain("leave", userTask("apply", "${initiator}"), userTask("audit", "${manager}"))
}

// reviewDefinition apply -> audit -> review
func reviewDefinition() *engine.Definition {
	return chain("review", userTask("apply", "${initiator}"), userTask("audit", "${manager}"), userTask("review", "${reviewer}"))
}

// signDefinition apply -> sign(会签) -> archive
func signDefinition(key string, sequential bool) *engine.Definition {
	sign := userTask("sign", "${approver}")
	sign.MultiInstance = &engine.MultiInstance{Sequential: sequential, Collection: "approvers", ElementVariable: "approver"}
	return chain(key, userTask("apply", "${initiator}"), sign, userTask("archive", "keeper"))
}

// branchDefinition apply -> fork -> (a1 -> a2 | b) -> join
func branchDefinition() *engine.Definition {
	return &engine.Definition{
		Key:  "branch",
		Name: "branch",
		Nodes: []engine.Node{
			{ID: "start", Type: engine.NodeStartEvent},
			userTask("apply", "${initiator}"),
			{ID: "fork", Type: engine.NodeParallelGateway},
			userTask("a1", "u1"),
			userTask("a2", "u2"),
			userTask("b", "u3"),
			{ID: "join", Type: engine.NodeParallelGateway},
			{ID: "end", Type: engine.NodeEndEvent},
		},
		Flows: []engine.Flow{
			flow("start", "apply"), flow("apply", "fork"),
			flow("fork", "a1"), flow("a1", "a2"), flow("a2", "join"),
			flow("fork", "b"), flow("b", "join"),
			flow("join", "end"),
		},
	}
}

// deploy 部署定义并绑定到同名业务表
func (f *fixture) deploy(t *testing.T, def *engine.Definition, table string) {
	_, err := f.definitions.Deploy(asAdmin(), def)
	require.NoError(t, err)
	_, err = f.definitions.BindTable(asAdmin(), service.BindTableRequest{TableName: table, DefinitionKey: def.Key})
	require.NoError(t, err)
}

func (f *fixture) start(t *testing.T, userID, businessKey, table string, vars map[string]interface{}) *service.StartResult {
	res, err := f.actions.StartWorkflow(as(userID), service.StartRequest{BusinessKey: businessKey, TableName: table, Variables: vars})
	require.NoError(t, err)
	return res
}

func (f *fixture) openTasks(t *testing.T, instanceID string) []*engine.Task {
	tasks, err := f.engine.QueryTasks(context.Background(), engine.TaskQuery{ProcessInstanceID: instanceID})
	require.NoError(t, err)
	return tasks
}

// taskAt 返回指定节点上唯一的待办
func (f *fixture) taskAt(t *testing.T, instanceID, nodeID string) *engine.Task {
	tasks, err := f.engine.QueryTasks(context.Background(), engine.TaskQuery{ProcessInstanceID: instanceID, NodeID: nodeID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

// onlyTask 返回实例唯一的待办
func (f *fixture) onlyTask(t *testing.T, instanceID string) *engine.Task {
	tasks := f.openTasks(t, instanceID)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func (f *fixture) complete(t *testing.T, userID, taskID, comment string, vars map[string]interface{}) {
	require.NoError(t, f.actions.CompleteTask(as(userID), service.CompleteRequest{TaskID: taskID, Comment: comment, Variables: vars}))
}

func (f *fixture) status(t *testing.T, instanceID string) status.BusinessStatus {
	inst, err := f.engine.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	return status.BusinessStatus(inst.BusinessStatus)
}

func (f *fixture) historyOrders(t *testing.T, instanceID string) map[string]int {
	entries, err := f.history.ListByInstance(context.Background(), instanceID)
	require.NoError(t, err)
	orders := make(map[string]int, len(entries))
	for _, e := range entries {
		orders[e.NodeID] = e.OrderNo
	}
	return orders
}
