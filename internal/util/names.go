package util

import (
	"math/rand/v2"
	"strings"
)

// frenchNameProbability is the share of generated names drawn from the
// French lists.
const frenchNameProbability = 0.20

type nameSet struct {
	male, female, last []string
}

var (
	englishNames = nameSet{
		male:   []string{"James", "John", "Robert", "Michael", "William", "David", "Thomas", "Daniel", "Henry", "Samuel"},
		female: []string{"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Susan", "Karen", "Emily", "Grace", "Alice"},
		last:   []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Miller", "Davis", "Wilson", "Taylor", "Clark"},
	}
	frenchNames = nameSet{
		male:   []string{"Jean", "Pierre", "Michel", "Louis", "François", "Étienne", "Hugo", "Théo"},
		female: []string{"Marie", "Jeanne", "Françoise", "Camille", "Léa", "Chloé", "Inès", "Margaux"},
		last:   []string{"Martin", "Bernard", "Dubois", "Thomas", "Robert", "Lefèvre", "Moreau", "Girard"},
	}
)

// PatientName returns a random name in DICOM person-name form
// ("LAST^FIRST"). Sex "M" picks a male first name, anything else a female
// one. The same rng state always yields the same name.
func PatientName(sex string, rng *rand.Rand) string {
	set := englishNames
	if rng.Float64() < frenchNameProbability {
		set = frenchNames
	}
	first := set.female
	if strings.EqualFold(sex, "M") {
		first = set.male
	}
	return set.last[rng.IntN(len(set.last))] + "^" + first[rng.IntN(len(first))]
}
