package models

import "time"

type CreateHandinResponse struct {
	UUID  string      `json:"uuid"`
	State HandinState `json:"state"`
	Scale float64     `json:"scale"`
}

type ProclogRequest struct {
	UUID     string  `json:"uuid"`
	Exitcode int     `json:"exitcode"`
	Stdout   *string `json:"stdout"`
	Stderr   *string `json:"stderr"`
}

type StartRequest struct {
	UUID string `json:"uuid"`
}

type HealthCheckResponse struct {
	Status        string    `json:"status"`
	Database      bool      `json:"database"`
	RabbitMQ      bool      `json:"rabbitmq"`
	Storage       bool      `json:"storage"`
	ActiveWorkers int       `json:"active_workers"`
	QueueLength   int       `json:"queue_length"`
	Uptime        string    `json:"uptime"`
	Timestamp     time.Time `json:"timestamp"`
}
