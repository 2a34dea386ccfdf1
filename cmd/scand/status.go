package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/scrollDynasty/softforlogic-sub000/services/recovery"
	"github.com/scrollDynasty/softforlogic-sub000/services/scanner"
)

type statusResponse struct {
	Level     scanner.AdaptationLevel `json:"level"`
	Metrics   scanner.HealthMetrics   `json:"metrics"`
	Strategy  scanner.ScanStrategy    `json:"strategy"`
	Recovery  recovery.Snapshot       `json:"recovery"`
	LastCycle scanner.CycleInfo       `json:"last_cycle"`
}

func RegisterStatus(
	mux *http.ServeMux,
	controller *scanner.Controller,
	scheduler *scanner.Scheduler,
	manager *recovery.Manager,
) {
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		metrics := controller.Snapshot()
		res := statusResponse{
			Level:     metrics.Level(),
			Metrics:   metrics,
			Strategy:  controller.Strategy(),
			Recovery:  manager.Status(),
			LastCycle: scheduler.LastCycle(),
		}
		w.Header().Set("content-type", "application/json")
		err := json.NewEncoder(w).Encode(res)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if manager.Status().State == recovery.StateEscalated {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "escalated")
			return
		}
		fmt.Fprintln(w, "ok")
	})
}
