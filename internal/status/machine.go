package status

import "github.com/mautops/workflow-gin/internal/flowerr"

// Action 受业务状态约束的操作
type Action string

const (
	ActionStart      Action = "start"
	ActionTerminate  Action = "terminate"
	ActionReject     Action = "reject"
	ActionCancel     Action = "cancel"
	ActionInvalidate Action = "invalidate"
)

// illegal 各操作在哪些业务状态下不允许执行
var illegal = map[Action]map[BusinessStatus]struct{}{
	// 草稿、待审核、退回表示已有进行中的流程占用该业务
	ActionStart: {
		Draft:   {},
		Waiting: {},
		Back:    {},
	},
	ActionTerminate: {
		Finish:      {},
		Termination: {},
		Invalid:     {},
	},
	ActionReject: {
		Finish:      {},
		Termination: {},
		Cancel:      {},
		Invalid:     {},
	},
	ActionInvalidate: {
		Finish:      {},
		Termination: {},
		Invalid:     {},
	},
}

// IsLegalTransition 判断在当前业务状态下是否允许执行操作
func IsLegalTransition(current BusinessStatus, action Action) bool {
	if action == ActionCancel {
		return current == Waiting
	}
	rules, ok := illegal[action]
	if !ok {
		return false
	}
	if action != ActionStart && current == "" {
		return false
	}
	_, denied := rules[current]
	return !denied
}

// Check 校验操作合法性,不合法时返回 ILLEGAL_STATUS 错误
func Check(current BusinessStatus, action Action) error {
	if IsLegalTransition(current, action) {
		return nil
	}
	if current == "" {
		return flowerr.IllegalStatus("%s is not allowed: business status is unknown", action)
	}
	return flowerr.IllegalStatus("%s is not allowed while the document is %s", action, current.Label())
}
