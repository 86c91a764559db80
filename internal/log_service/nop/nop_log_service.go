package nop

import "github.com/AnishMulay/sandreplay/internal/log_service"

// NopLogService drops every event.
type NopLogService struct{}

func New() NopLogService { return NopLogService{} }

func (NopLogService) Debug(log_service.LogEvent) {}
func (NopLogService) Info(log_service.LogEvent)  {}
func (NopLogService) Warn(log_service.LogEvent)  {}
func (NopLogService) Error(log_service.LogEvent) {}

var _ log_service.LogService = NopLogService{}
