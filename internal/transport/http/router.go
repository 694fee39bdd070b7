package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"niftycast/internal/pipeline"
	"niftycast/internal/store"
	"niftycast/internal/store/runlog"
)

// Trigger 是手动触发一次流水线运行的入口（与调度器共用同一幂等入口）。
type Trigger interface {
	RunOnce(ctx context.Context) (*pipeline.Result, error)
}

// Router 暴露预测查询与手动触发接口。
type Router struct {
	History store.HistoryStore
	Runs    *runlog.Store
	Pipe    Trigger

	// 手动触发的整体超时，覆盖拉取+推理+落盘。
	RunTimeout time.Duration
}

func NewRouter(history store.HistoryStore, runs *runlog.Store, pipe Trigger) *Router {
	return &Router{History: history, Runs: runs, Pipe: pipe, RunTimeout: 3 * time.Minute}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/predictions/latest", r.handleLatest)
	group.GET("/predictions/history", r.handleHistory)
	group.GET("/runs", r.handleRuns)
	if r.Pipe != nil {
		group.POST("/run", r.handleRun)
	}
}

func (r *Router) handleLatest(c *gin.Context) {
	rec, err := r.History.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no predictions yet"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleHistory(c *gin.Context) {
	from := strings.TrimSpace(c.Query("from"))
	to := strings.TrimSpace(c.Query("to"))
	records, err := r.History.ReadRange(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []store.HistoryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

func (r *Router) handleRuns(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := r.Runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "runs": records})
}

// handleRun 同步执行一次流水线。运行不挂在请求 ctx 上：
// 客户端断开不允许打断一次已进入写入阶段的运行。
func (r *Router) handleRun(c *gin.Context) {
	timeout := r.RunTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res, err := r.Pipe.RunOnce(runCtx)
	if err != nil {
		status := http.StatusBadGateway
		payload := gin.H{"error": err.Error()}
		if res != nil {
			payload["run_id"] = res.RunID
			payload["failed_stage"] = string(res.Stage)
		}
		c.JSON(status, payload)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":         res.RunID,
		"trading_date":   res.TradingDate,
		"stage":          string(res.Stage),
		"recommendation": res.Consensus.Recommendation,
		"fused_close":    res.Consensus.FusedClose,
	})
}
