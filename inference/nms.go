package inference

import (
	"sort"

	"github.com/TIANLI0/SlideKit/service"
)

// nms 按类别做非极大值抑制，结果按置信度降序，最多保留 maxObjects 个
func nms(dets []service.Detection, threshold float64, maxObjects int) []service.Detection {
	order := make([]service.Detection, len(dets))
	copy(order, dets)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Confidence > order[j].Confidence
	})

	suppressed := make([]bool, len(order))
	kept := make([]service.Detection, 0, len(order))

	for i := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, order[i])
		if maxObjects > 0 && len(kept) == maxObjects {
			break
		}

		for j := i + 1; j < len(order); j++ {
			if suppressed[j] || order[j].Class != order[i].Class {
				continue
			}
			if order[i].Box.IoU(order[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}
