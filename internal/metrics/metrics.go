package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 流程实例发起数
	instancesStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_instances_started_total",
			Help: "Total number of workflow instances started",
		},
	)

	// 任务操作数
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_actions_total",
			Help: "Total number of workflow task actions",
		},
		[]string{"action", "result"},
	)

	// 通知投递数
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_notifications_total",
			Help: "Total number of workflow notifications delivered",
		},
		[]string{"channel", "result"},
	)

	// 等待实例锁的耗时
	lockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_lock_wait_seconds",
			Help:    "Time spent waiting for the workflow instance lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 流程实例业务状态分布
	instancesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflow_instances_by_status",
			Help: "Number of workflow instances by business status",
		},
		[]string{"status"},
	)

	// 待办任务数
	openTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_open_tasks",
			Help: "Number of open runtime tasks",
		},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(instancesStartedTotal)
	prometheus.MustRegister(actionsTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(lockWaitSeconds)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(instancesByStatus)
	prometheus.MustRegister(openTasks)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordInstanceStarted 记录流程实例发起
func RecordInstanceStarted() {
	instancesStartedTotal.Inc()
}

// RecordAction 记录任务操作结果,result 为 success 或错误类别
func RecordAction(action, result string) {
	actionsTotal.WithLabelValues(action, result).Inc()
}

// RecordNotification 记录通知投递结果
func RecordNotification(channel, result string) {
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveLockWait 记录获取实例锁的等待时间
func ObserveLockWait(d time.Duration) {
	lockWaitSeconds.Observe(d.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateInstancesByStatus 更新流程实例状态分布指标
func UpdateInstancesByStatus(status string, count float64) {
	instancesByStatus.WithLabelValues(status).Set(count)
}

// UpdateOpenTasks 更新待办任务数
func UpdateOpenTasks(count float64) {
	openTasks.Set(count)
}
