package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/muppet-sub000/internal/haproxystats"
	"github.com/TritonDataCenter/muppet-sub000/internal/helpers"
	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// socketExecutor is the capability the metrics handler needs from the
// Socket Serializer.
type socketExecutor interface {
	Execute(ctx context.Context, command string) ([]byte, error)
}

// Handler returns an http.HandlerFunc that queries HAProxy's full stats
// table through executor and renders it as Prometheus exposition text.
// Every request issues one "show stat -1 7 -1" round trip;
// there is no caching, since the socket query is already bounded by the
// Serializer's FIFO queue.
func Handler(executor socketExecutor, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply, err := executor.Execute(r.Context(), "show stat -1 7 -1")
		if err != nil {
			logger.Error().Err(err).Msg("metrics: stats query failed")
			http.Error(w, "failed to query haproxy stats", http.StatusBadGateway)
			return
		}

		rows, err := haproxystats.Parse(reply)
		if err != nil {
			logger.Error().Err(err).Msg("metrics: failed to parse stats reply")
			http.Error(w, "failed to parse haproxy stats", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		Render(w, rows)
	}
}

// Render writes rows as Prometheus exposition text to w. Every (metric
// def, component) pair that has at least one sample gets its own
// HELP/TYPE header, since the component is part of the metric name
// ("loadbalancer_<component>_<name>").
func Render(w http.ResponseWriter, rows []model.LiveRow) {
	for _, def := range Catalogue {
		samplesByComponent := map[string][]string{}

		for _, row := range rows {
			component := ComponentName(row.Type)
			if component == "" {
				continue
			}
			raw, ok := row.Fields[def.Column]
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			value, ok := def.Modifier(raw)
			if !ok {
				continue
			}
			metricName := fmt.Sprintf("loadbalancer_%s_%s", component, def.Name)
			labels := buildLabels(component, row)
			samplesByComponent[component] = append(samplesByComponent[component],
				fmt.Sprintf("%s{%s} %v\n", metricName, labels, value))
		}

		for _, component := range []string{"frontend", "backend", "server"} {
			samples := samplesByComponent[component]
			if len(samples) == 0 {
				continue
			}
			sort.Strings(samples)
			metricName := fmt.Sprintf("loadbalancer_%s_%s", component, def.Name)
			fmt.Fprintf(w, "# HELP %s %s\n", metricName, def.Help)
			fmt.Fprintf(w, "# TYPE %s %s\n", metricName, def.Type)
			for _, s := range samples {
				fmt.Fprint(w, s)
			}
		}
	}
}

func buildLabels(component string, row model.LiveRow) string {
	pairs := []string{
		fmt.Sprintf("component=%q", helpers.SanitizeLabelValue(component)),
		fmt.Sprintf("pxname=%q", helpers.SanitizeLabelValue(row.PxName)),
	}
	if id := row.RegistrationID(); id != "" {
		pairs = append(pairs, fmt.Sprintf("inst_id=%q", helpers.SanitizeLabelValue(id)))
	}
	return strings.Join(pairs, ",")
}
