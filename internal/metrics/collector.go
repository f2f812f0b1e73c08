package metrics

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Collector 指标收集器,按 cron 表达式定期刷新数据库相关指标
type Collector struct {
	db       *gorm.DB
	schedule string
	cron     *cron.Cron
}

// NewCollector 创建指标收集器,schedule 如 "@every 30s"
func NewCollector(db *gorm.DB, schedule string) *Collector {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &Collector{
		db:       db,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, c.Collect); err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop 停止指标收集器并等待正在执行的收集结束
func (c *Collector) Stop() {
	<-c.cron.Stop().Done()
}

// Collect 收集一次指标
func (c *Collector) Collect() {
	if err := UpdateDatabaseConnections(c.db); err != nil {
		logrus.WithError(err).Warn("collect database connection metrics failed")
		return
	}

	var rows []struct {
		BusinessStatus string
		Count          int64
	}
	if err := c.db.Table("wf_process_instances").
		Select("business_status, count(*) as count").
		Where("end_time IS NULL").
		Group("business_status").
		Scan(&rows).Error; err != nil {
		logrus.WithError(err).Warn("collect instance status metrics failed")
		return
	}
	for _, r := range rows {
		UpdateInstancesByStatus(r.BusinessStatus, float64(r.Count))
	}

	var open int64
	if err := c.db.Table("wf_tasks").Count(&open).Error; err != nil {
		logrus.WithError(err).Warn("collect open task metrics failed")
		return
	}
	UpdateOpenTasks(float64(open))
}
