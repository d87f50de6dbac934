package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dtree-rule-compiler/internal/config"
	"dtree-rule-compiler/internal/model"
)

// ParseMappingCSV reads a class -> action CSV ("class,action") and an
// action -> destination CSV ("action,host,port"). Columns are located by
// header name; an empty host marks a drop action.
func ParseMappingCSV(classesFile, actionsFile io.Reader) (model.ActionMapping, error) {
	classes, err := parseClassesFile(classesFile)
	if err != nil {
		return model.ActionMapping{}, fmt.Errorf("error parsing classes file: %w", err)
	}

	actions, err := parseActionsFile(actionsFile)
	if err != nil {
		return model.ActionMapping{}, fmt.Errorf("error parsing actions file: %w", err)
	}

	return model.ActionMapping{Classes: classes, Actions: actions}, nil
}

func parseClassesFile(r io.Reader) (map[int]int, error) {
	reader, cols, err := openCSV(r, "class", "action")
	if err != nil {
		return nil, err
	}

	classes := make(map[int]int)
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		class, err := strconv.Atoi(strings.TrimSpace(record[cols["class"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid class: %w", row, err)
		}
		action, err := strconv.Atoi(strings.TrimSpace(record[cols["action"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid action: %w", row, err)
		}
		if _, dup := classes[class]; dup {
			return nil, fmt.Errorf("row %d: class %d mapped twice", row, class)
		}
		classes[class] = action
	}
	return classes, nil
}

func parseActionsFile(r io.Reader) (map[int]*model.Destination, error) {
	reader, cols, err := openCSV(r, "action", "host", "port")
	if err != nil {
		return nil, err
	}

	actions := make(map[int]*model.Destination)
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id, err := strconv.Atoi(strings.TrimSpace(record[cols["action"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid action: %w", row, err)
		}
		var port uint64
		if raw := strings.TrimSpace(record[cols["port"]]); raw != "" {
			port, err = strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid port: %w", row, err)
			}
		}
		dest, err := config.ParseDestination(record[cols["host"]], uint16(port))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if _, dup := actions[id]; dup {
			return nil, fmt.Errorf("row %d: action %d defined twice", row, id)
		}
		actions[id] = dest
	}
	return actions, nil
}

// openCSV reads the header and returns the index of every required column.
func openCSV(r io.Reader, required ...string) (*csv.Reader, map[string]int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	for _, col := range required {
		if _, ok := colMap[col]; !ok {
			return nil, nil, fmt.Errorf("could not find '%s' column", col)
		}
	}
	return reader, colMap, nil
}
