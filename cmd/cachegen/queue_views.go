package main

import (
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cachegen/internal/queue"
	"cachegen/internal/workflow"
)

var titleCaser = cases.Title(language.English)

// buildQueueStatusRows lists non-zero counts in lifecycle order.
func buildQueueStatusRows(counts map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses() {
		count := counts[status]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{titleCaser.String(string(status)), strconv.Itoa(count)})
	}
	return rows
}

func buildQueueListRows(items []*queue.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			truncate(item.TargetID, 40),
			string(item.Action),
			string(item.Status),
			strconv.Itoa(item.Priority),
			strconv.Itoa(item.Attempts) + "/" + strconv.Itoa(item.MaxAttempts),
			formatTimestamp(item.QueuedAt),
			truncate(item.ErrorMessage, 48),
		})
	}
	return rows
}

func buildTickRows(items []workflow.TickItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			truncate(item.TargetID, 40),
			string(item.Action),
			string(item.Status),
			strconv.Itoa(item.Attempts),
			truncate(item.Error, 48),
		})
	}
	return rows
}

// buildStatRows renders API queue stats, zero counts included.
func buildStatRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		rows = append(rows, []string{titleCaser.String(string(status)), strconv.Itoa(stats[string(status)])})
	}
	return rows
}
