package esmvaltool

// DefaultVariables are the variables of the generic forcing recipes.
var DefaultVariables = []string{"pr", "tas", "tasmin", "tasmax"}

// GenericRequest selects what a generic forcing recipe extracts.
type GenericRequest struct {
	StartYear int
	EndYear   int
	Shape     string
	// DatasetName picks a predefined dataset, ERA5 when empty.
	DatasetName string
	// Dataset is used instead of DatasetName when its name is set.
	Dataset   Dataset
	Variables []string
}

func (r GenericRequest) builder(title string) *Builder {
	b := NewBuilder().Title(title).Description(title)
	switch {
	case r.Dataset.Dataset != "":
		b.DatasetValue(r.Dataset)
	case r.DatasetName != "":
		b.Dataset(r.DatasetName)
	default:
		b.Dataset("ERA5")
	}
	return b.Start(r.StartYear).End(r.EndYear).Shape(r.Shape)
}

func (r GenericRequest) variables() []string {
	if len(r.Variables) == 0 {
		return DefaultVariables
	}
	return r.Variables
}

// GenericDistributedRecipe cuts each variable to the shape and copies the
// gridded result.
func GenericDistributedRecipe(r GenericRequest) (Recipe, error) {
	return r.builder("Generic distributed forcing recipe").
		AddVariables(r.variables()...).
		Build()
}

// GenericLumpedRecipe cuts each variable to the shape and averages it over
// the area.
func GenericLumpedRecipe(r GenericRequest) (Recipe, error) {
	return r.builder("Generic lumped forcing recipe").
		Lump().
		AddVariables(r.variables()...).
		Build()
}
