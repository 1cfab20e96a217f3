package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	dbPath string
}

func NewDatabaseChecker(dbPath string) *DatabaseChecker {
	return &DatabaseChecker{dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dbPath == "" {
		check.Status = StatusDegraded
		check.Message = "Database path not configured"
		return check
	}

	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		// First run, the file appears on first persist
		check.Status = StatusHealthy
		check.Message = "Database file will be created on first use"
		check.Details["file_exists"] = false
		return check
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to open database: %v", err)
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	check.Details["file_exists"] = true
	return check
}

// ConnectionStater reports the state of the detection channel
type ConnectionStater interface {
	IsConnected() bool
}

// DetectorChecker checks the connection to the detection service. A
// disconnected channel is degraded, not unhealthy: the client keeps
// reconnecting on its own.
type DetectorChecker struct {
	conn ConnectionStater
	url  string
}

func NewDetectorChecker(conn ConnectionStater, url string) *DetectorChecker {
	return &DetectorChecker{conn: conn, url: url}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"url": c.url},
	}

	if c.conn == nil {
		check.Status = StatusDegraded
		check.Message = "Detection channel not configured"
		return check
	}

	if c.conn.IsConnected() {
		check.Status = StatusHealthy
		check.Message = "Detection service connected"
	} else {
		check.Status = StatusDegraded
		check.Message = "Detection service disconnected, reconnecting"
	}
	return check
}

// DeviceLister reports discovered capture devices
type DeviceLister interface {
	DeviceCount() int
}

// CameraChecker checks capture device availability
type CameraChecker struct {
	devices DeviceLister
	rtspURL string
}

func NewCameraChecker(devices DeviceLister, rtspURL string) *CameraChecker {
	return &CameraChecker{devices: devices, rtspURL: rtspURL}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.rtspURL != "" {
		check.Status = StatusHealthy
		check.Message = "RTSP camera configured"
		check.Details["rtsp"] = true
		return check
	}

	count := 0
	if c.devices != nil {
		count = c.devices.DeviceCount()
	}
	check.Details["devices"] = count

	if count == 0 {
		check.Status = StatusDegraded
		check.Message = "No capture devices discovered"
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%d capture device(s) available", count)
	return check
}

// DataDirChecker checks that the data directory is writable
type DataDirChecker struct {
	dataDir string
}

func NewDataDirChecker(dataDir string) *DataDirChecker {
	return &DataDirChecker{dataDir: dataDir}
}

func (c *DataDirChecker) Name() string {
	return "data_dir"
}

func (c *DataDirChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dataDir == "" {
		check.Status = StatusDegraded
		check.Message = "Data directory not configured"
		return check
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Data directory accessible"
	check.Details["data_dir"] = c.dataDir
	return check
}
