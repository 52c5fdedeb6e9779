package app

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/cast"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 10m", func() {
		if n := a.dispatcher.Sweep(); n > 0 {
			zap.L().Info("swept expired bulk jobs", zap.Int("count", n))
		}
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	cpuuse, err := cpu.Percent(0, false)
	if err == nil && len(cpuuse) > 0 {
		metrics.Gauge(metrics.SystemCpuUsage, cpuuse[0])
	}

	meminfo, err := mem.VirtualMemory()
	if err == nil {
		metrics.Gauge(metrics.SystemMemUsage, float64(meminfo.Used/1024/1024))
	}
}

// SchedClearExpireData prunes aged operation and message logs per the
// configured retention windows.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	oprDays := cast.ToInt(a.GetSettingsStringValue("system", "LogRetentionDays"))
	if oprDays == 0 {
		oprDays = 365
	}
	a.gormDB.
		Where("opt_time < ? ", time.Now().
			Add(-time.Hour*24*time.Duration(oprDays))).Delete(domain.SysOprLog{})

	msgDays := cast.ToInt(a.GetSettingsStringValue("whatsapp", "MessageLogRetentionDays"))
	if msgDays == 0 {
		msgDays = 90
	}
	a.gormDB.
		Where("created_at < ? ", time.Now().
			Add(-time.Hour*24*time.Duration(msgDays))).Delete(domain.WaMessageLog{})
}
