package status

// BusinessStatus 业务状态,独立于引擎内部的令牌状态
type BusinessStatus string

const (
	Draft       BusinessStatus = "draft"
	Waiting     BusinessStatus = "waiting"
	Back        BusinessStatus = "back"
	Termination BusinessStatus = "termination"
	Finish      BusinessStatus = "finish"
	Cancel      BusinessStatus = "cancel"
	Invalid     BusinessStatus = "invalid"
)

var businessStatusLabels = map[BusinessStatus]string{
	Draft:       "草稿",
	Waiting:     "待审核",
	Back:        "已退回",
	Termination: "已终止",
	Finish:      "已完成",
	Cancel:      "已撤销",
	Invalid:     "已作废",
}

// Label 返回业务状态的中文描述
func (s BusinessStatus) Label() string {
	return businessStatusLabels[s]
}

// Valid 判断是否为已知业务状态
func (s BusinessStatus) Valid() bool {
	_, ok := businessStatusLabels[s]
	return ok
}

// Resubmittable 草稿、退回、撤销状态下再次办理首节点视为重新提交
func (s BusinessStatus) Resubmittable() bool {
	return s == Draft || s == Back || s == Cancel
}

// TaskStatus 任务意见类型
type TaskStatus string

const (
	TaskCancel      TaskStatus = "cancel"
	TaskPass        TaskStatus = "pass"
	TaskWaiting     TaskStatus = "waiting"
	TaskInvalid     TaskStatus = "invalid"
	TaskBack        TaskStatus = "back"
	TaskTermination TaskStatus = "termination"
	TaskTransfer    TaskStatus = "transfer"
	TaskPending     TaskStatus = "pending"
	TaskCopy        TaskStatus = "copy"
	TaskSign        TaskStatus = "sign"
	TaskSignOff     TaskStatus = "sign_off"
	TaskTimeout     TaskStatus = "timeout"
)

var taskStatusLabels = map[TaskStatus]string{
	TaskCancel:      "撤销",
	TaskPass:        "通过",
	TaskWaiting:     "待审核",
	TaskInvalid:     "作废",
	TaskBack:        "退回",
	TaskTermination: "终止",
	TaskTransfer:    "转办",
	TaskPending:     "委托",
	TaskCopy:        "抄送",
	TaskSign:        "加签",
	TaskSignOff:     "减签",
	TaskTimeout:     "超时",
}

// Label 返回意见类型的中文描述
func (s TaskStatus) Label() string {
	return taskStatusLabels[s]
}
