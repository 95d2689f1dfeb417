package scanning

import (
	"fmt"
	"strings"
)

const itemScanPrompt = `You are looking at either a grocery receipt or a photo of a kitchen storage area (fridge, freezer, pantry, cupboard, counter). List every distinct food or household item you can identify.

For each item return:
- "name": a short generic product name in singular or the form printed on the label, without brand noise or prices (e.g. "Milk", "Eggs", "Cheddar Cheese").
- "quantity": how many units of the item you can count or the receipt lists. Use a number. If you cannot tell, use 1.
- "unit": the unit the quantity is measured in (e.g. "pcs", "l", "kg", "pack") or null.
- "category": the best category for the item, or null.
- "confidence": "high", "medium" or "low" depending on how sure you are about the name.
- "estimated_shelf_life_days": typical days until the item expires from today, or null for non-perishables.

Return ONLY valid JSON in this exact format:
{
  "items": [
    {"name": "Milk", "quantity": 1, "unit": "l", "category": "Dairy", "confidence": "high", "estimated_shelf_life_days": 7}
  ]
}

Important:
- Order items from most to least confident
- Merge repeated lines for the same product into one item with the summed quantity
- Do not include taxes, totals, discounts or store information
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt appends the scan hint to the shared prompt
func buildPrompt(hint Hint) string {
	var b strings.Builder
	b.WriteString(itemScanPrompt)

	if hint.Area != "" {
		fmt.Fprintf(&b, "\n\nThe photo was taken in this storage area: %s.", hint.Area)
	}
	if len(hint.Categories) > 0 {
		fmt.Fprintf(&b, "\nPrefer one of these categories when one fits: %s.", strings.Join(hint.Categories, ", "))
	}
	if len(hint.SeenNames) > 0 {
		fmt.Fprintf(&b, "\nItems already recorded elsewhere during this scan (reuse these exact names if you see the same product): %s.", strings.Join(hint.SeenNames, ", "))
	}
	return b.String()
}
