package api

import (
	"fmt"
	"time"

	"itinsync/internal/model"
	"itinsync/internal/timeutil"
)

func validateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	return nil
}

func validateItem(it *model.Item) error {
	if it.Type == "" {
		return fmt.Errorf("type is required")
	}
	if _, ok := model.ItemTypes[it.Type]; !ok {
		return fmt.Errorf("unknown item type: %s", it.Type)
	}
	if it.Time != "" {
		if _, ok := timeutil.ParseTime(it.Time); !ok {
			return fmt.Errorf("invalid time %q: want HH:MM", it.Time)
		}
	}
	if it.Cost < 0 {
		return fmt.Errorf("cost must be >= 0")
	}
	return nil
}

func validateReorder(req *model.ReorderRequest) error {
	if req.ItemID == "" {
		return fmt.Errorf("itemId is required")
	}
	if req.ToIndex < 0 {
		return fmt.Errorf("toIndex must be >= 0")
	}
	return nil
}

func validateMove(req *model.MoveRequest) error {
	if req.ItemID == "" {
		return fmt.Errorf("itemId is required")
	}
	if err := validateDate(req.FromDate); err != nil {
		return err
	}
	if err := validateDate(req.ToDate); err != nil {
		return err
	}
	if req.ToIndex != nil && *req.ToIndex < 0 {
		return fmt.Errorf("toIndex must be >= 0")
	}
	return nil
}
