package filepicker

// WidgetType is the identifier hosts use for this widget.
const WidgetType = "FILE_PICKER_WIDGET_V2"

type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type ValidationParams struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Default any      `json:"default,omitempty"`
	Unique  bool     `json:"unique,omitempty"`
	// Children describes array elements.
	Children *Validation `json:"children,omitempty"`
}

type Validation struct {
	Type   string            `json:"type"`
	Params *ValidationParams `json:"params,omitempty"`
}

type PropertyControl struct {
	PropertyName      string      `json:"propertyName"`
	Label             string      `json:"label"`
	HelpText          string      `json:"helpText,omitempty"`
	ControlType       string      `json:"controlType"`
	PlaceholderText   string      `json:"placeholderText,omitempty"`
	InputType         string      `json:"inputType,omitempty"`
	Options           []Option    `json:"options,omitempty"`
	IsMultiSelect     bool        `json:"isMultiSelect,omitempty"`
	IsJSConvertible   bool        `json:"isJSConvertible,omitempty"`
	IsBindProperty    bool        `json:"isBindProperty"`
	IsTriggerProperty bool        `json:"isTriggerProperty"`
	Validation        *Validation `json:"validation,omitempty"`
}

type PropertySection struct {
	SectionName string            `json:"sectionName"`
	Children    []PropertyControl `json:"children"`
}

func ptr(v float64) *float64 { return &v }

var textValidation = &Validation{Type: "TEXT"}

var dataFormatOptions = []Option{
	{Label: "Base64", Value: "Base64"},
	{Label: "Binary", Value: "Binary"},
	{Label: "Text", Value: "Text"},
}

// PropertyPaneConfig describes the content properties shown in a host's
// property editor.
func PropertyPaneConfig() []PropertySection {
	return []PropertySection{
		{
			SectionName: "Basic",
			Children: []PropertyControl{
				{
					PropertyName:    "allowedFileTypes",
					Label:           "Allowed file types",
					HelpText:        "Restricts the type of files which can be uploaded",
					ControlType:     "DROP_DOWN",
					PlaceholderText: "Select file types",
					IsMultiSelect:   true,
					Options: []Option{
						{Label: "Any file", Value: "*"},
						{Label: "Images", Value: "image/*"},
						{Label: "Videos", Value: "video/*"},
						{Label: "Audio", Value: "audio/*"},
						{Label: "Text", Value: "text/*"},
						{Label: "MS Word", Value: ".doc"},
						{Label: "JPEG", Value: "image/jpeg"},
						{Label: "PNG", Value: ".png"},
					},
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation: &Validation{
						Type: "ARRAY",
						Params: &ValidationParams{
							Unique:   true,
							Children: textValidation,
						},
					},
				},
				{
					PropertyName: "fileDataType",
					Label:        "Data format",
					HelpText:     "Sets the format of the data loaded from the files",
					ControlType:  "DROP_DOWN",
					Options:      dataFormatOptions,
					Validation: &Validation{
						Type:   "TEXT",
						Params: &ValidationParams{Default: "Base64"},
					},
				},
				{
					PropertyName:    "maxNumFiles",
					Label:           "Max no. of files",
					HelpText:        "Sets the maximum number of files that can be uploaded at once",
					ControlType:     "INPUT_TEXT",
					PlaceholderText: "1",
					InputType:       "INTEGER",
					IsBindProperty:  true,
					Validation:      &Validation{Type: "NUMBER"},
				},
			},
		},
		{
			SectionName: "Label",
			Children: []PropertyControl{
				{
					PropertyName:    "label",
					Label:           "Text",
					HelpText:        "Sets the label of the button",
					ControlType:     "INPUT_TEXT",
					PlaceholderText: DefaultLabel,
					InputType:       "TEXT",
					IsBindProperty:  true,
					Validation:      textValidation,
				},
			},
		},
		{
			SectionName: "Validation",
			Children: []PropertyControl{
				{
					PropertyName:    "isRequired",
					Label:           "Required",
					HelpText:        "Makes input to the widget mandatory",
					ControlType:     "SWITCH",
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation:      &Validation{Type: "BOOLEAN"},
				},
				{
					PropertyName:    "maxFileSize",
					Label:           "Max file size (Mb)",
					HelpText:        "Sets the maximum file size of each file",
					ControlType:     "INPUT_TEXT",
					PlaceholderText: "5",
					InputType:       "INTEGER",
					IsBindProperty:  true,
					Validation: &Validation{
						Type:   "NUMBER",
						Params: &ValidationParams{Min: ptr(1), Max: ptr(100), Default: DefaultMaxFileSize},
					},
				},
			},
		},
		{
			SectionName: "General",
			Children: []PropertyControl{
				{
					PropertyName:    "isVisible",
					Label:           "Visible",
					HelpText:        "Controls the visibility of the widget",
					ControlType:     "SWITCH",
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation:      &Validation{Type: "BOOLEAN"},
				},
				{
					PropertyName:    "isDisabled",
					Label:           "Disabled",
					HelpText:        "Disables input to the widget",
					ControlType:     "SWITCH",
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation:      &Validation{Type: "BOOLEAN"},
				},
			},
		},
		{
			SectionName: "Events",
			Children: []PropertyControl{
				{
					PropertyName:      "onFilesSelected",
					Label:             "onFilesSelected",
					HelpText:          "Triggers an action when the user selects a file. Upload files to a CDN and stores their URLs in filepicker.files",
					ControlType:       "ACTION_SELECTOR",
					IsJSConvertible:   true,
					IsBindProperty:    true,
					IsTriggerProperty: true,
				},
			},
		},
	}
}

// PropertyPaneStyleConfig describes the style properties.
func PropertyPaneStyleConfig() []PropertySection {
	return []PropertySection{
		{
			SectionName: "Color",
			Children: []PropertyControl{
				{
					PropertyName:    "buttonColor",
					Label:           "Button color",
					HelpText:        "Changes the color of the button",
					ControlType:     "COLOR_PICKER",
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation:      textValidation,
				},
			},
		},
		{
			SectionName: "Border and shadow",
			Children: []PropertyControl{
				{
					PropertyName:    "borderRadius",
					Label:           "Border radius",
					HelpText:        "Rounds the corners of the widget's outer edge",
					ControlType:     "BORDER_RADIUS_OPTIONS",
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation:      textValidation,
				},
				{
					PropertyName:    "boxShadow",
					Label:           "Box shadow",
					HelpText:        "Enables you to cast a drop shadow from the frame of the widget",
					ControlType:     "BOX_SHADOW_OPTIONS",
					IsJSConvertible: true,
					IsBindProperty:  true,
					Validation:      textValidation,
				},
			},
		},
	}
}

// DerivedProperties maps each derived property to the expression a host
// evaluates for it.
func DerivedProperties() map[string]string {
	return map[string]string{
		"isValid": "{{ this.isRequired ? this.files.length > 0 : true }}",
		"files":   "{{this.selectedFiles}}",
	}
}

// MetaProperties returns the initial values of the widget's meta properties.
func MetaProperties() map[string]any {
	return map[string]any{
		"selectedFiles":    []any{},
		"uploadedFileData": map[string]any{},
		"isDirty":          false,
	}
}

type Schema struct {
	Type              string            `json:"type"`
	PropertyPane      []PropertySection `json:"propertyPane"`
	PropertyPaneStyle []PropertySection `json:"propertyPaneStyle"`
	Derived           map[string]string `json:"derivedProperties"`
	Meta              map[string]any    `json:"metaProperties"`
}

func WidgetSchema() Schema {
	return Schema{
		Type:              WidgetType,
		PropertyPane:      PropertyPaneConfig(),
		PropertyPaneStyle: PropertyPaneStyleConfig(),
		Derived:           DerivedProperties(),
		Meta:              MetaProperties(),
	}
}
