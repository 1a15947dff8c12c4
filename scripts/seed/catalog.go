package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Items []seedItem `yaml:"items"`
}

type seedItem struct {
	ID              int64         `yaml:"id"`
	Name            string        `yaml:"name"`
	BaseModelNumber string        `yaml:"base_model_number"`
	PicturePath     string        `yaml:"picture_path"`
	Active          *bool         `yaml:"active"`
	Variants        []seedVariant `yaml:"variants"`
	Addons          []seedAddon   `yaml:"addons"`
}

type seedVariant struct {
	ID          int64           `yaml:"id"`
	Style       string          `yaml:"style"`
	Price       decimal.Decimal `yaml:"price"`
	PicturePath string          `yaml:"picture_path"`
	Sort        int             `yaml:"sort"`
	Active      *bool           `yaml:"active"`
}

type seedAddon struct {
	AddonItem    int64 `yaml:"addon_item"`
	AddonVariant int64 `yaml:"addon_variant"`
	Slot         int   `yaml:"slot"`
	Required     bool  `yaml:"required"`
}

func isActive(flag *bool) bool {
	return flag == nil || *flag
}

func parseCatalog(r io.Reader) (catalogFile, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return catalogFile{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := file.validate(); err != nil {
		return catalogFile{}, err
	}
	return file, nil
}

func (f catalogFile) validate() error {
	if len(f.Items) == 0 {
		return errors.New("catalog has no items")
	}
	items := make(map[int64]bool, len(f.Items))
	variants := make(map[int64]int64)
	for _, item := range f.Items {
		if item.ID <= 0 || item.Name == "" {
			return fmt.Errorf("item %d: id and name required", item.ID)
		}
		if items[item.ID] {
			return fmt.Errorf("item %d: duplicate id", item.ID)
		}
		items[item.ID] = true
		for _, v := range item.Variants {
			if v.ID <= 0 {
				return fmt.Errorf("item %d: variant id required", item.ID)
			}
			if _, dup := variants[v.ID]; dup {
				return fmt.Errorf("variant %d: duplicate id", v.ID)
			}
			if v.Price.IsNegative() {
				return fmt.Errorf("variant %d: negative price", v.ID)
			}
			variants[v.ID] = item.ID
		}
	}
	for _, item := range f.Items {
		for _, a := range item.Addons {
			if !items[a.AddonItem] {
				return fmt.Errorf("item %d: addon item %d unknown", item.ID, a.AddonItem)
			}
			if a.AddonVariant != 0 && variants[a.AddonVariant] != a.AddonItem {
				return fmt.Errorf("item %d: addon variant %d does not belong to item %d", item.ID, a.AddonVariant, a.AddonItem)
			}
		}
	}
	return nil
}
