// Package benchmark - Functionality for measuring proposal evaluation runs.
package benchmark

import "time"

// PerformanceMetrics captures the timing, memory and recall of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"total_duration"`
	MeanIteration   time.Duration `json:"mean_iteration"`
	ImagesPerSecond float64       `json:"images_per_second"`
	Images          int           `json:"images"`
	MeanRecall      float64       `json:"mean_recall"`
	OverallRecall   float64       `json:"overall_recall"`
	MeanProposals   float64       `json:"mean_proposals"`
	FailedImages    int           `json:"failed_images"`
	ErrorRate       float64       `json:"error_rate"`
	MemoryStats     MemoryMetrics `json:"memory_stats"`
	CPUStats        CPUMetrics    `json:"cpu_stats"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU     int `json:"num_cpu"`
	GOMAXPROCS int `json:"gomaxprocs"`
}
